package dispatcher

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/okian/goalboard/internal/domain/model"
)

var jsonNull = []byte("null")

// Decode turns one text frame into an Event. Frames with an unrecognized
// type return ErrUnknownEvent; anything else that cannot be applied returns
// a *DecodeError.
func Decode(frame []byte) (model.Event, error) {
	var env model.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return model.Event{}, newDecodeError("", frame, fmt.Errorf("%w: %w", ErrMalformedEvent, err))
	}
	if env.Type == "" {
		return model.Event{}, newDecodeError("", frame, fmt.Errorf("%w: missing type", ErrMalformedEvent))
	}

	switch env.Type {
	case model.EventGoalCreated, model.EventGoalUpdated, model.EventProgressUpdated, model.EventGoalDeleted:
	default:
		return model.Event{Type: env.Type}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, jsonNull) {
		return model.Event{}, newDecodeError(string(env.Type), frame, fmt.Errorf("%w: missing data", ErrMalformedEvent))
	}

	ev, err := decodeData(env.Type, data)
	if err != nil {
		return model.Event{}, newDecodeError(string(env.Type), frame, err)
	}
	return ev, nil
}

func decodeData(t model.EventType, data []byte) (model.Event, error) {
	ev := model.Event{Type: t, Origin: model.OriginStream}

	switch t {
	case model.EventGoalCreated, model.EventGoalUpdated:
		var g model.Goal
		if err := json.Unmarshal(data, &g); err != nil {
			return ev, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
		}
		if g.ID == 0 {
			return ev, fmt.Errorf("%w: goal has no id", ErrMalformedEvent)
		}
		ev.GoalID, ev.Goal = g.ID, &g

	case model.EventProgressUpdated:
		var d model.ProgressUpdatedData
		if err := json.Unmarshal(data, &d); err != nil {
			return ev, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
		}
		if d.UpdatedGoal == nil || d.UpdatedGoal.ID == 0 {
			return ev, fmt.Errorf("%w: updated_goal has no id", ErrMalformedEvent)
		}
		ev.GoalID, ev.Goal, ev.Feedback = d.UpdatedGoal.ID, d.UpdatedGoal, d.Feedback

	case model.EventGoalDeleted:
		var d model.GoalDeletedData
		if err := json.Unmarshal(data, &d); err != nil {
			return ev, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
		}
		id := d.GoalID
		if id == 0 && d.DeletedGoal != nil {
			id = d.DeletedGoal.ID
		}
		if id == 0 {
			return ev, fmt.Errorf("%w: goal_id missing", ErrMalformedEvent)
		}
		ev.GoalID = id
	}
	return ev, nil
}
