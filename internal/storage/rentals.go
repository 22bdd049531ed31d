package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RentalDuration is the billing period of a rental.
type RentalDuration string

const (
	DurationHourly  RentalDuration = "hourly"
	DurationDaily   RentalDuration = "daily"
	DurationMonthly RentalDuration = "monthly"
)

// Period returns how long a rental of this duration lasts.
func (d RentalDuration) Period() (time.Duration, bool) {
	switch d {
	case DurationHourly:
		return time.Hour, true
	case DurationDaily:
		return 24 * time.Hour, true
	case DurationMonthly:
		return 30 * 24 * time.Hour, true
	}
	return 0, false
}

// PaymentMethod is how a rental is paid for.
type PaymentMethod string

const (
	PaymentCrypto  PaymentMethod = "crypto"
	PaymentCard    PaymentMethod = "card"
	PaymentBalance PaymentMethod = "balance"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCrypto, PaymentCard, PaymentBalance:
		return true
	}
	return false
}

// RentalStatus is the lifecycle state of a rental.
type RentalStatus string

const (
	RentalActive    RentalStatus = "active"
	RentalExpired   RentalStatus = "expired"
	RentalCancelled RentalStatus = "cancelled"
)

// Rental is a time-boxed rental of a bot.
type Rental struct {
	ID            string          `json:"id"`
	BotID         string          `json:"bot_id"`
	BotName       string          `json:"bot_name"`
	UserID        string          `json:"user_id,omitempty"`
	Duration      RentalDuration  `json:"duration"`
	Price         decimal.Decimal `json:"price"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Status        RentalStatus    `json:"status"`
	RentedAt      time.Time       `json:"rented_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

// RentalID returns the default id for a rental of botID started at rentedAt.
func RentalID(botID string, rentedAt time.Time) string {
	return fmt.Sprintf("rental_%s_%d", botID, rentedAt.Unix())
}

// CreateRental inserts r, assigning an id and creation time when unset,
// and returns the id.
func (s *Store) CreateRental(ctx context.Context, r *Rental) (string, error) {
	if r.ID == "" {
		r.ID = RentalID(r.BotID, r.RentedAt)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now().UTC()
	}

	var userID sql.NullString
	if r.UserID != "" {
		userID = sql.NullString{String: r.UserID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO rentals (
  id, bot_id, bot_name, user_id, duration, price,
  payment_method, status, rented_at, expires_at, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		r.ID, r.BotID, r.BotName, userID, string(r.Duration), r.Price.String(),
		string(r.PaymentMethod), string(r.Status),
		formatTime(r.RentedAt), formatTime(r.ExpiresAt), formatTime(r.CreatedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert rental: %w", err)
	}
	return r.ID, nil
}

const rentalColumns = `id, bot_id, bot_name, user_id, duration, price, payment_method, status, rented_at, expires_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRental(row rowScanner) (Rental, error) {
	var (
		r                             Rental
		userID                        sql.NullString
		duration, method, status      string
		price                         string
		rentedAt, expiresAt, createdAt string
	)
	if err := row.Scan(&r.ID, &r.BotID, &r.BotName, &userID, &duration, &price, &method, &status, &rentedAt, &expiresAt, &createdAt); err != nil {
		return Rental{}, err
	}

	p, err := decimal.NewFromString(price)
	if err != nil {
		return Rental{}, fmt.Errorf("rental %s price: %w", r.ID, err)
	}
	r.Price = p
	r.UserID = userID.String
	r.Duration = RentalDuration(duration)
	r.PaymentMethod = PaymentMethod(method)
	r.Status = RentalStatus(status)

	if r.RentedAt, err = parseTime(rentedAt); err != nil {
		return Rental{}, fmt.Errorf("rental %s rented_at: %w", r.ID, err)
	}
	if r.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return Rental{}, fmt.Errorf("rental %s expires_at: %w", r.ID, err)
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return Rental{}, fmt.Errorf("rental %s created_at: %w", r.ID, err)
	}
	return r, nil
}

func (s *Store) queryRentals(ctx context.Context, query string, args ...any) ([]Rental, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Rental, 0)
	for rows.Next() {
		r, err := scanRental(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRental returns the rental with id, or ErrNotFound.
func (s *Store) GetRental(ctx context.Context, id string) (Rental, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rentalColumns+` FROM rentals WHERE id = ?;`, id)
	r, err := scanRental(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Rental{}, ErrNotFound
	}
	if err != nil {
		return Rental{}, fmt.Errorf("get rental: %w", err)
	}
	return r, nil
}

// ActiveRentals returns active, unexpired rentals, newest first. A non-empty
// userID also matches rentals without an owner.
func (s *Store) ActiveRentals(ctx context.Context, userID string, now time.Time) ([]Rental, error) {
	var (
		out []Rental
		err error
	)
	if userID != "" {
		out, err = s.queryRentals(ctx, `
SELECT `+rentalColumns+` FROM rentals
WHERE status = ? AND expires_at > ? AND (user_id IS NULL OR user_id = ?)
ORDER BY rented_at DESC;
`, string(RentalActive), formatTime(now), userID)
	} else {
		out, err = s.queryRentals(ctx, `
SELECT `+rentalColumns+` FROM rentals
WHERE status = ? AND expires_at > ?
ORDER BY rented_at DESC;
`, string(RentalActive), formatTime(now))
	}
	if err != nil {
		return nil, fmt.Errorf("list active rentals: %w", err)
	}
	return out, nil
}

// RentalsByBot returns every rental of botID, newest first.
func (s *Store) RentalsByBot(ctx context.Context, botID, userID string) ([]Rental, error) {
	var (
		out []Rental
		err error
	)
	if userID != "" {
		out, err = s.queryRentals(ctx, `
SELECT `+rentalColumns+` FROM rentals
WHERE bot_id = ? AND (user_id IS NULL OR user_id = ?)
ORDER BY rented_at DESC;
`, botID, userID)
	} else {
		out, err = s.queryRentals(ctx, `
SELECT `+rentalColumns+` FROM rentals
WHERE bot_id = ?
ORDER BY rented_at DESC;
`, botID)
	}
	if err != nil {
		return nil, fmt.Errorf("list rentals for %s: %w", botID, err)
	}
	return out, nil
}

// UpdateRentalStatus sets the status of rental id, or returns ErrNotFound.
func (s *Store) UpdateRentalStatus(ctx context.Context, id string, status RentalStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rentals SET status = ? WHERE id = ?;`, string(status), id)
	if err != nil {
		return fmt.Errorf("update rental status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rental status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelRental marks rental id cancelled.
func (s *Store) CancelRental(ctx context.Context, id string) error {
	return s.UpdateRentalStatus(ctx, id, RentalCancelled)
}

// ExpireRentals marks active rentals whose expiry is at or before now as
// expired and returns how many changed.
func (s *Store) ExpireRentals(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE rentals SET status = ?
WHERE status = ? AND expires_at <= ?;
`, string(RentalExpired), string(RentalActive), formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("expire rentals: %w", err)
	}
	return res.RowsAffected()
}
