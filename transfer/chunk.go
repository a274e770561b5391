// Package transfer moves membership snapshots across a size-limited
// transport: Split cuts a snapshot into chunks and the Aggregator
// reassembles them exactly once on the receiving side.
package transfer

import (
	"errors"
	"fmt"

	"f0oster/groupsync/snapshot"
)

var (
	ErrInvalidChunk     = errors.New("invalid transfer chunk")
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
)

// Chunk is a bounded fragment of a snapshot. Payload carries the snapshot
// header and a subset of its members. DeliveryToken is assigned by the
// transport on receipt and is used to acknowledge the chunk.
type Chunk struct {
	SessionID     string                      `json:"session_id"`
	Index         int                         `json:"index"`
	IsLastChunk   bool                        `json:"is_last_chunk"`
	Payload       snapshot.MembershipSnapshot `json:"payload"`
	DeliveryToken string                      `json:"delivery_token,omitempty"`
}

// Split cuts snap into ordered chunks of at most maxChunkSize members. The
// session id is the snapshot's run id. An empty snapshot yields one empty
// chunk so the receiver still completes.
func Split(snap *snapshot.MembershipSnapshot, maxChunkSize int) ([]Chunk, error) {
	if maxChunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	if err := snapshot.Validate(snap); err != nil {
		return nil, err
	}

	sessionID := snap.RunID.String()
	count := (len(snap.Members) + maxChunkSize - 1) / maxChunkSize
	if count == 0 {
		count = 1
	}

	chunks := make([]Chunk, 0, count)
	for i := 0; i < count; i++ {
		lo := i * maxChunkSize
		hi := min(lo+maxChunkSize, len(snap.Members))

		payload := *snap
		payload.SourceIDs = append([]string(nil), snap.SourceIDs...)
		payload.Members = append(payload.Members[:0:0], snap.Members[lo:hi]...)

		chunks = append(chunks, Chunk{
			SessionID:   sessionID,
			Index:       i,
			IsLastChunk: i == count-1,
			Payload:     payload,
		})
	}
	return chunks, nil
}

// sameHeader reports whether two chunks describe the same snapshot.
func sameHeader(a, b *Chunk) error {
	pa, pb := &a.Payload, &b.Payload
	switch {
	case pa.RunID != pb.RunID:
		return fmt.Errorf("%w: run id %s does not match %s", ErrInvalidChunk, pa.RunID, pb.RunID)
	case pa.DestinationID != pb.DestinationID:
		return fmt.Errorf("%w: destination %q does not match %q", ErrInvalidChunk, pa.DestinationID, pb.DestinationID)
	case pa.Exclusionary != pb.Exclusionary:
		return fmt.Errorf("%w: exclusionary flag differs between chunks", ErrInvalidChunk)
	}
	return nil
}
