package luckydraw

import "time"

// DrawResult is the outcome of one draw. A loss has a nil PrizeID and the
// "Thank You" text.
type DrawResult struct {
	PrizeID          *int64    `json:"prizeId"`
	PrizeName        string    `json:"prizeName"`
	PrizeDescription string    `json:"prizeDescription"`
	DrawTime         time.Time `json:"drawTime"`
}

// Won reports whether the draw awarded a prize
func (r *DrawResult) Won() bool { return r.PrizeID != nil }

func newLossResult(at time.Time) DrawResult {
	return DrawResult{
		PrizeName:        LossPrizeName,
		PrizeDescription: LossPrizeDescription,
		DrawTime:         at,
	}
}

func newWinResult(p *Prize, at time.Time) DrawResult {
	id := p.ID
	return DrawResult{
		PrizeID:          &id,
		PrizeName:        p.Name,
		PrizeDescription: p.Description,
		DrawTime:         at,
	}
}

// DrawFailure records an error met at one position of a batch
type DrawFailure struct {
	DrawIndex int       `json:"drawIndex"` // 1-based
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Absorbed  bool      `json:"absorbed"` // true when converted into a loss
	Timestamp time.Time `json:"timestamp"`
}

// MultiDrawResult is the outcome of one batch
type MultiDrawResult struct {
	BatchID        string        `json:"batchId"`
	Results        []DrawResult  `json:"results"`
	TotalDraws     int           `json:"totalDraws"`
	TotalRequested int           `json:"totalRequested"`
	PartialSuccess bool          `json:"partialSuccess"`
	Failures       []DrawFailure `json:"failures,omitempty"`
	LastError      error         `json:"-"`
}

// Wins returns the number of winning draws in the batch
func (m *MultiDrawResult) Wins() int {
	n := 0
	for i := range m.Results {
		if m.Results[i].Won() {
			n++
		}
	}
	return n
}

// DrawHistoryItem is a draw record joined with its prize text
type DrawHistoryItem struct {
	RecordID   int64     `json:"recordId"`
	UserID     int64     `json:"userId"`
	ActivityID int64     `json:"activityId"`
	PrizeID    *int64    `json:"prizeId"`
	PrizeName  string    `json:"prizeName"`
	DrawTime   time.Time `json:"drawTime"`
}
