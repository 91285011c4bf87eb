package tmjson

import (
	"encoding/json"
	"fmt"

	"github.com/gordian-engine/gsequencer/tm/tmcodec"
	"github.com/gordian-engine/gsequencer/tm/tmconsensus"
)

// MarshalCodec is the JSON [tmcodec.MarshalCodec].
type MarshalCodec struct{}

var _ tmcodec.MarshalCodec = MarshalCodec{}

// Content IDs are arbitrary bytes held in strings,
// so the wire types carry them as []byte
// to avoid the UTF-8 coercion applied to JSON strings.

type jsonMessage struct {
	ProposalPart *jsonProposalPart `json:",omitempty"`
	Vote         *jsonVote         `json:",omitempty"`
	Decision     *jsonDecision     `json:",omitempty"`
}

type jsonProposalPart struct {
	Height    uint64
	Round     uint32
	Txs       [][]byte `json:",omitempty"`
	ContentID []byte   `json:",omitempty"`
}

type jsonVote struct {
	Type      tmconsensus.VoteType
	Height    uint64
	Round     uint32
	ContentID []byte `json:",omitempty"`
	Nil       bool   `json:",omitempty"`
	Voter     tmconsensus.ValidatorID
}

type jsonDecision struct {
	Height     uint64
	ContentID  []byte
	Precommits []jsonVote
}

func (MarshalCodec) MarshalConsensusMessage(m tmconsensus.ConsensusMessage) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	var jm jsonMessage
	switch {
	case m.ProposalPart != nil:
		p := m.ProposalPart
		jm.ProposalPart = &jsonProposalPart{
			Height:    p.Height,
			Round:     p.Round,
			Txs:       p.Txs,
			ContentID: []byte(p.ContentID),
		}
	case m.Vote != nil:
		v := toJSONVote(*m.Vote)
		jm.Vote = &v
	case m.Decision != nil:
		d := m.Decision
		jd := &jsonDecision{
			Height:     d.Height,
			ContentID:  []byte(d.ContentID),
			Precommits: make([]jsonVote, len(d.Precommits)),
		}
		for i, v := range d.Precommits {
			jd.Precommits[i] = toJSONVote(v)
		}
		jm.Decision = jd
	}

	return json.Marshal(jm)
}

func (MarshalCodec) UnmarshalConsensusMessage(b []byte, m *tmconsensus.ConsensusMessage) error {
	var jm jsonMessage
	if err := json.Unmarshal(b, &jm); err != nil {
		return fmt.Errorf("failed to unmarshal consensus message: %w", err)
	}

	*m = tmconsensus.ConsensusMessage{}
	switch {
	case jm.ProposalPart != nil:
		p := jm.ProposalPart
		m.ProposalPart = &tmconsensus.ProposalPart{
			Height:    p.Height,
			Round:     p.Round,
			Txs:       p.Txs,
			ContentID: string(p.ContentID),
		}
	case jm.Vote != nil:
		v := fromJSONVote(*jm.Vote)
		m.Vote = &v
	case jm.Decision != nil:
		d := jm.Decision
		m.Decision = &tmconsensus.Decision{
			Height:     d.Height,
			ContentID:  string(d.ContentID),
			Precommits: make([]tmconsensus.Vote, len(d.Precommits)),
		}
		for i, v := range d.Precommits {
			m.Decision.Precommits[i] = fromJSONVote(v)
		}
	}

	return m.Validate()
}

func toJSONVote(v tmconsensus.Vote) jsonVote {
	jv := jsonVote{
		Type:   v.Type,
		Height: v.Height,
		Round:  v.Round,
		Voter:  v.Voter,
	}
	if v.ContentID == nil {
		jv.Nil = true
	} else {
		jv.ContentID = []byte(*v.ContentID)
	}
	return jv
}

func fromJSONVote(jv jsonVote) tmconsensus.Vote {
	v := tmconsensus.Vote{
		Type:   jv.Type,
		Height: jv.Height,
		Round:  jv.Round,
		Voter:  jv.Voter,
	}
	if !jv.Nil {
		id := string(jv.ContentID)
		v.ContentID = &id
	}
	return v
}
