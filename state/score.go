package state

import "sort"

// ScoreEntry is one line of a ScoreList.
type ScoreEntry struct {
	PlayerID string `json:"playerId"`
	Points   int    `json:"points"`
}

// Ledger 房间级积分表，只增不减
type Ledger struct {
	scores map[string]int
}

func NewLedger() *Ledger {
	return &Ledger{scores: make(map[string]int)}
}

// Add credits points and returns the new total. Non-positive amounts are
// ignored so a total never decreases.
func (l *Ledger) Add(playerID string, points int) int {
	if points > 0 {
		l.scores[playerID] += points
	}
	return l.scores[playerID]
}

func (l *Ledger) Get(playerID string) int {
	return l.scores[playerID]
}

// Entries returns the totals of ids, highest first; ties keep ids order.
func (l *Ledger) Entries(ids []string) []ScoreEntry {
	entries := make([]ScoreEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, ScoreEntry{PlayerID: id, Points: l.scores[id]})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Points > entries[j].Points
	})
	return entries
}
