package models

import "time"

type User struct {
	ID            int32
	Name          string
	AccountNumber string
	ReferrerID    int32
	CreatedAt     time.Time
}
