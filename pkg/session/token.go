package session

import "fmt"

// TickToken is the handle a tick source presents with every call.
//
// Generation ties the tick to one session. Seq orders ticks inside it.
// Several sources reporting for the same tick may share one token.
type TickToken struct {
	Generation uint64 `json:"generation"`
	Seq        uint64 `json:"seq"`
}

// String returns "generation/seq".
func (t TickToken) String() string {
	return fmt.Sprintf("%d/%d", t.Generation, t.Seq)
}
