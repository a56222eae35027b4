package cartsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/cartbridge/pkg/logger"
)

// ErrUnchanged signals that the payload must not touch the current
// projection (error-shaped body, transient upstream hiccup).
var ErrUnchanged = errors.New("payload leaves projection unchanged")

// ParseError marks a structurally unusable payload.
type ParseError struct {
	Reason string
	cause  error
}

func (e *ParseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("parse cart payload: %s: %v", e.Reason, e.cause)
	}
	return fmt.Sprintf("parse cart payload: %s", e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.cause
}

// Normalizer converts heterogeneous upstream payloads into the canonical
// snapshot. All shape-guessing lives here; the rest of the engine only
// ever sees *Snapshot.
type Normalizer struct {
	logg *logger.Logger
}

func NewNormalizer(logg *logger.Logger) *Normalizer {
	return &Normalizer{logg: logg}
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Success *bool           `json:"success"`
	Error   json.RawMessage `json:"error"`
}

// Normalize unwraps at most one data envelope, rejects error-shaped
// payloads with ErrUnchanged, and drops line items that do not reference a
// resolvable product. It has no side effects beyond logging and is
// idempotent for a given input.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte) (*Snapshot, error) {
	if len(raw) == 0 {
		return nil, &ParseError{Reason: "empty payload"}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ParseError{Reason: "invalid json", cause: err}
	}

	payload := raw
	if len(env.Data) > 0 && !isJSONNull(env.Data) {
		payload = env.Data
	}

	if errorShaped(env, payload) {
		return nil, ErrUnchanged
	}

	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, &ParseError{Reason: "unexpected cart shape", cause: err}
	}

	kept := snap.Items[:0:0]
	for _, item := range snap.Items {
		if strings.TrimSpace(item.ProductID) == "" || item.Product == nil {
			if n.logg != nil {
				dropCtx := n.logg.WithFields(ctx, map[string]any{
					"item_id":    item.ID,
					"product_id": item.ProductID,
				})
				n.logg.Warn(dropCtx, "dropping cart item without resolvable product")
			}
			continue
		}
		kept = append(kept, item)
	}
	snap.Items = kept

	return &snap, nil
}

// errorShaped reports whether the unwrapped payload indicates failure
// rather than a cart. Such payloads preserve the existing projection so a
// transient upstream error never flashes an empty cart.
func errorShaped(env envelope, payload []byte) bool {
	if env.Success != nil && !*env.Success {
		return true
	}
	if len(env.Error) > 0 && !isJSONNull(env.Error) {
		return true
	}
	var inner struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(payload, &inner); err == nil {
		if len(inner.Error) > 0 && !isJSONNull(inner.Error) {
			return true
		}
	}
	return false
}

func isJSONNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}
