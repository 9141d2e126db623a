package hearing

import (
	"encoding/json"
	"errors"

	"github.com/MikeSquared-Agency/gavel/internal/sequencer"
)

const eventHearingConcluded = "hearing_concluded"

type frameKind int

const (
	frameUnknown frameKind = iota
	frameUtterance
	frameConcluded
	frameError
)

// frame is a decoded inbound message.
type frame struct {
	kind    frameKind
	message sequencer.Message
	err     string
}

type inboundFrame struct {
	ID        string         `json:"id"`
	HearingID string         `json:"hearing_id"`
	Role      sequencer.Role `json:"role"`
	Content   *string        `json:"content"`
	Sequence  *int           `json:"sequence"`
	Event     string         `json:"event"`
	Error     *string        `json:"error"`
}

type outboundFrame struct {
	Role    sequencer.Role `json:"role"`
	Content string         `json:"content"`
}

var errMalformedFrame = errors.New("malformed frame")

func parseFrame(data []byte) (frame, error) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		return frame{}, errMalformedFrame
	}

	switch {
	case in.Error != nil:
		return frame{kind: frameError, err: *in.Error}, nil
	case in.Event == eventHearingConcluded:
		return frame{kind: frameConcluded}, nil
	case in.Event != "":
		return frame{kind: frameUnknown}, nil
	}

	if in.Content == nil || in.Sequence == nil || *in.Sequence < 1 || !in.Role.Valid() {
		return frame{}, errMalformedFrame
	}
	return frame{
		kind: frameUtterance,
		message: sequencer.Message{
			ID:        in.ID,
			HearingID: in.HearingID,
			Role:      in.Role,
			Content:   *in.Content,
			Sequence:  *in.Sequence,
		},
	}, nil
}

func encodeFrame(role sequencer.Role, content string) ([]byte, error) {
	return json.Marshal(outboundFrame{Role: role, Content: content})
}
