package queue

import (
	"sort"
	"time"

	"qms/queue-engine/internal/models"
	"qms/queue-engine/internal/store"
)

// state is one committed version of a location. It is never modified after
// it has been published; transactions work on a clone.
type state struct {
	settings  models.LocationSettings
	cursor    models.LocationState
	serving   *models.Token
	waiting   []models.Token
	snoozed   []models.Token
	retired   []models.Token
	quotas    map[string]models.SwapQuota
	proposals map[string]models.SwapRequest
	version   uint64
}

func newState(settings models.LocationSettings) *state {
	return &state{
		settings: settings,
		cursor: models.LocationState{
			LocationID: settings.LocationID,
			NextNumber: 1,
		},
		quotas:    make(map[string]models.SwapQuota),
		proposals: make(map[string]models.SwapRequest),
	}
}

func (s *state) clone() *state {
	out := *s
	out.cursor.Vacancies = append([]models.Vacancy(nil), s.cursor.Vacancies...)
	if s.cursor.ServingNumber != nil {
		n := *s.cursor.ServingNumber
		out.cursor.ServingNumber = &n
	}
	if s.serving != nil {
		tok := *s.serving
		out.serving = &tok
	}
	out.waiting = append([]models.Token(nil), s.waiting...)
	out.snoozed = append([]models.Token(nil), s.snoozed...)
	out.retired = append([]models.Token(nil), s.retired...)
	out.quotas = make(map[string]models.SwapQuota, len(s.quotas))
	for k, v := range s.quotas {
		out.quotas[k] = v
	}
	out.proposals = make(map[string]models.SwapRequest, len(s.proposals))
	for k, v := range s.proposals {
		out.proposals[k] = v
	}
	return &out
}

func (s *state) waitingIndex(tokenID string) int {
	for i, tok := range s.waiting {
		if tok.TokenID == tokenID {
			return i
		}
	}
	return -1
}

func (s *state) vacancyIndex(number int64) int {
	for i, v := range s.cursor.Vacancies {
		if v.Number == number {
			return i
		}
	}
	return -1
}

// view holds the read accessors shared by Snapshot and Tx.
type view struct {
	st *state
}

func (v view) LocationID() string {
	return v.st.settings.LocationID
}

func (v view) Settings() models.LocationSettings {
	return v.st.settings
}

func (v view) Cursor() models.LocationState {
	cursor := v.st.cursor
	cursor.Vacancies = append([]models.Vacancy(nil), v.st.cursor.Vacancies...)
	return cursor
}

func (v view) Version() uint64 {
	return v.st.version
}

func (v view) Serving() (models.Token, bool) {
	if v.st.serving == nil {
		return models.Token{}, false
	}
	return *v.st.serving, true
}

// Waiting returns the waiting line in queue order.
func (v view) Waiting() []models.Token {
	return append([]models.Token(nil), v.st.waiting...)
}

func (v view) Snoozed() []models.Token {
	return append([]models.Token(nil), v.st.snoozed...)
}

func (v view) Retired() []models.Token {
	return append([]models.Token(nil), v.st.retired...)
}

// Token finds a non-terminal token by ID.
func (v view) Token(tokenID string) (models.Token, bool) {
	if v.st.serving != nil && v.st.serving.TokenID == tokenID {
		return *v.st.serving, true
	}
	if idx := v.st.waitingIndex(tokenID); idx >= 0 {
		return v.st.waiting[idx], true
	}
	for _, tok := range v.st.snoozed {
		if tok.TokenID == tokenID {
			return tok, true
		}
	}
	return models.Token{}, false
}

func (v view) TokenByNumber(number int64) (models.Token, bool) {
	if v.st.serving != nil && v.st.serving.Number == number {
		return *v.st.serving, true
	}
	for _, tok := range v.st.waiting {
		if tok.Number == number {
			return tok, true
		}
	}
	for _, tok := range v.st.snoozed {
		if tok.Number == number {
			return tok, true
		}
	}
	return models.Token{}, false
}

// ActiveTokenOf returns the owner's waiting or serving token.
func (v view) ActiveTokenOf(ownerID string) (models.Token, bool) {
	if v.st.serving != nil && v.st.serving.OwnerID == ownerID {
		return *v.st.serving, true
	}
	for _, tok := range v.st.waiting {
		if tok.OwnerID == ownerID {
			return tok, true
		}
	}
	return models.Token{}, false
}

func (v view) SnoozedTokenOf(ownerID string) (models.Token, bool) {
	for _, tok := range v.st.snoozed {
		if tok.OwnerID == ownerID {
			return tok, true
		}
	}
	return models.Token{}, false
}

// TokenOf returns the owner's active token, falling back to a snoozed one.
func (v view) TokenOf(ownerID string) (models.Token, bool) {
	if tok, ok := v.ActiveTokenOf(ownerID); ok {
		return tok, true
	}
	return v.SnoozedTokenOf(ownerID)
}

// Vacancies returns the open vacancies. Claimed ones are left out.
func (v view) Vacancies() []models.Vacancy {
	var out []models.Vacancy
	for _, vacancy := range v.st.cursor.Vacancies {
		if vacancy.ClaimedBy == "" {
			out = append(out, vacancy)
		}
	}
	return out
}

func (v view) Vacancy(number int64) (models.Vacancy, bool) {
	if idx := v.st.vacancyIndex(number); idx >= 0 && v.st.cursor.Vacancies[idx].ClaimedBy == "" {
		return v.st.cursor.Vacancies[idx], true
	}
	return models.Vacancy{}, false
}

func (v view) VacancyClaimed(number int64) bool {
	idx := v.st.vacancyIndex(number)
	return idx >= 0 && v.st.cursor.Vacancies[idx].ClaimedBy != ""
}

func (v view) Quota(ownerID string) (models.SwapQuota, bool) {
	q, ok := v.st.quotas[ownerID]
	return q, ok
}

func (v view) Proposal(requestID string) (models.SwapRequest, bool) {
	req, ok := v.st.proposals[requestID]
	return req, ok
}

// Proposals returns pending swap proposals ordered by creation time.
func (v view) Proposals() []models.SwapRequest {
	out := make([]models.SwapRequest, 0, len(v.st.proposals))
	for _, req := range v.st.proposals {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Export builds the persistence record for this version.
func (v view) Export(savedAt time.Time) store.Snapshot {
	cursor := v.Cursor()
	var tokens []models.Token
	if v.st.serving != nil {
		tokens = append(tokens, *v.st.serving)
	}
	tokens = append(tokens, v.st.waiting...)
	tokens = append(tokens, v.st.snoozed...)

	quotas := make([]models.SwapQuota, 0, len(v.st.quotas))
	for _, q := range v.st.quotas {
		quotas = append(quotas, q)
	}
	sort.Slice(quotas, func(i, j int) bool { return quotas[i].OwnerID < quotas[j].OwnerID })

	return store.Snapshot{
		Settings: v.st.settings,
		State:    cursor,
		Tokens:   tokens,
		Retired:  v.Retired(),
		Quotas:   quotas,
		SavedAt:  savedAt,
	}
}

// Snapshot is a committed, immutable version of one location.
type Snapshot struct {
	view
}

func restoreState(snapshot store.Snapshot) *state {
	st := newState(snapshot.Settings)
	st.cursor = snapshot.State
	st.cursor.LocationID = snapshot.Settings.LocationID
	st.cursor.Vacancies = append([]models.Vacancy(nil), snapshot.State.Vacancies...)
	if st.cursor.NextNumber < 1 {
		st.cursor.NextNumber = 1
	}

	for _, tok := range snapshot.Tokens {
		switch tok.Status {
		case models.StatusServing:
			serving := tok
			serving.Position = models.NoPosition
			st.serving = &serving
		case models.StatusWaiting:
			st.waiting = append(st.waiting, tok)
		case models.StatusSnoozed:
			tok.Position = models.NoPosition
			st.snoozed = append(st.snoozed, tok)
		}
		if tok.Number >= st.cursor.NextNumber {
			st.cursor.NextNumber = tok.Number + 1
		}
	}
	sort.SliceStable(st.waiting, func(i, j int) bool { return st.waiting[i].Position < st.waiting[j].Position })
	for i := range st.waiting {
		st.waiting[i].Position = i
	}
	if st.serving != nil {
		n := st.serving.Number
		st.cursor.ServingNumber = &n
		st.cursor.ServingTokenID = st.serving.TokenID
	} else {
		st.cursor.ServingNumber = nil
		st.cursor.ServingTokenID = ""
	}
	for _, q := range snapshot.Quotas {
		st.quotas[q.OwnerID] = q
	}
	return st
}
