package lending

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventBookBorrowed        = "BookBorrowed"
	EventBookReturned        = "BookReturned"
	EventBookReserved        = "BookReserved"
	EventReservationCanceled = "ReservationCanceled"

	eventVersion    = 1
	defaultProducer = "lending-api"
)

// Event is the envelope published after a lending transition commits. Key
// partitions events by book.
type Event struct {
	EventID       string    `json:"eventId"`
	EventType     string    `json:"eventType"`
	EventVersion  int       `json:"eventVersion"`
	OccurredAt    time.Time `json:"occurredAt"`
	Producer      string    `json:"producer"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Key           string    `json:"-"`
	Payload       any       `json:"payload"`
}

type LoanPayload struct {
	TransactionID string     `json:"transactionId"`
	BookID        string     `json:"bookId"`
	UserID        string     `json:"userId"`
	BorrowedDate  time.Time  `json:"borrowedDate"`
	ReturnDate    time.Time  `json:"returnDate"`
	ClosedAt      *time.Time `json:"closedAt,omitempty"`
	BookDeleted   bool       `json:"bookDeleted,omitempty"`
}

type ReservationPayload struct {
	BookID string `json:"bookId"`
	UserID string `json:"userId"`
}

func newEvent(eventType, producer, correlationID, key string, at time.Time, payload any) Event {
	return Event{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Key:           key,
		Payload:       payload,
	}
}
