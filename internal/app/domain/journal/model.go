package journal

import "time"

// Entry is a published diary entry.
type Entry struct {
	ID         string    `json:"id" db:"id"`
	Title      string    `json:"title" db:"title"`
	Content    string    `json:"content" db:"content"`
	Author     string    `json:"author" db:"author"`
	Publish    bool      `json:"publish" db:"publish"`
	ShowOnMain bool      `json:"show_on_main" db:"show_on_main"`
	CreatedAt  time.Time `json:"date" db:"created_at"`
	UpdatedAt  time.Time `json:"update_date" db:"updated_at"`
}
