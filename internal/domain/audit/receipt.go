package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
)

// NewReceipt computes the attestation receipt for a persisted action.
// The hash covers the pipe-joined tuple
//
//	action_id | tool | decision | risk | timestamp_iso
//
// with the timestamp in UTC RFC 3339 nanosecond form, so two stores
// holding the same action always derive the same receipt.
func NewReceipt(a action.Action, feeTier string, now time.Time) Receipt {
	payload := strings.Join([]string{
		strconv.FormatInt(a.ID, 10),
		a.Tool,
		string(a.Decision),
		strconv.Itoa(a.Risk),
		a.Timestamp.UTC().Format(time.RFC3339Nano),
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return Receipt{
		ActionID:  a.ID,
		Hash:      hex.EncodeToString(sum[:]),
		FeeTier:   feeTier,
		FeeMilli:  a.FeeMilli,
		CreatedAt: now,
	}
}
