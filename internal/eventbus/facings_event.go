package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/blockkit/internal/vec"
	"github.com/annel0/blockkit/internal/world/block"
	"github.com/google/uuid"
)

// EventTypeFacingsChanged тип события изменения сторон блока
const EventTypeFacingsChanged = "FacingsChanged"

const facingsChangedVersion = 1

// ErrBusClosed шина уже закрыта
var ErrBusClosed = errors.New("event bus closed")

// FacingsChanged полезная нагрузка события: состояние сторон до и после изменения
type FacingsChanged struct {
	Pos     vec.Vec3 `json:"pos"`
	Old     uint8    `json:"old"`
	New     uint8    `json:"new"`
	Removed bool     `json:"removed,omitempty"`
}

// OldFacings канонический экземпляр прежнего состояния
func (e FacingsChanged) OldFacings() *block.Facings {
	return block.FromBits(e.Old)
}

// NewFacings канонический экземпляр нового состояния
func (e FacingsChanged) NewFacings() *block.Facings {
	return block.FromBits(e.New)
}

// NewFacingsChangedEnvelope упаковывает изменение в Envelope
func NewFacingsChangedEnvelope(source string, pos vec.Vec3, old, updated *block.Facings, removed bool) (*Envelope, error) {
	payload, err := json.Marshal(FacingsChanged{
		Pos:     pos,
		Old:     old.Value(),
		New:     updated.Value(),
		Removed: removed,
	})
	if err != nil {
		return nil, fmt.Errorf("facings event payload: %w", err)
	}

	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: EventTypeFacingsChanged,
		Version:   facingsChangedVersion,
		Priority:  5,
		Payload:   payload,
	}, nil
}

// DecodeFacingsChanged разбирает полезную нагрузку события FacingsChanged
func DecodeFacingsChanged(ev *Envelope) (FacingsChanged, error) {
	var change FacingsChanged
	if ev.EventType != EventTypeFacingsChanged {
		return change, fmt.Errorf("unexpected event type %q", ev.EventType)
	}
	if err := json.Unmarshal(ev.Payload, &change); err != nil {
		return change, fmt.Errorf("facings event payload: %w", err)
	}
	return change, nil
}
