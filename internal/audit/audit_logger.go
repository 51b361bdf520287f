package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	ActorID   string    `json:"actor_id"`
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	Details   any       `json:"details"`
}

// Logger emits structured audit lines to the process log. This is the
// operational trail; the durable audit_logs rows are written by the ledger
// service inside the same transaction as the mutation they describe.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogMutation(actorID, userID string, amount int64, entryType, ref string) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "LEDGER_MUTATION",
		ActorID:   actorID,
		UserID:    userID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details: map[string]string{
			"entry_type": entryType,
			"ref":        ref,
		},
	}
	a.log(event)
}

func (a *Logger) LogResolution(adminID, requestID, decision string, amount int64) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "TOPUP_RESOLUTION",
		ActorID:   adminID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details: map[string]string{
			"request_id": requestID,
			"decision":   decision,
		},
	}
	a.log(event)
}

func (a *Logger) LogError(actorID, userID string, err error) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "ERROR",
		ActorID:   actorID,
		UserID:    userID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
