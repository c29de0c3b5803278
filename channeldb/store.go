package channeldb

import (
	bolt "go.etcd.io/bbolt"
)

// Create inserts a brand-new channel record. It fails if a channel with
// this ID already exists, or if ch's (VendorID, ClientPublicKey) pair
// already has an open channel (§3.5, single-open-per-client invariant):
// the lookup against the secondary index and the insert happen inside the
// same transaction, so the check-and-insert is atomic.
func (d *DB) Create(ch *Channel) error {
	return d.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(channelBucket)
		if bucket == nil {
			return ErrNoChanDBExists
		}
		idx := tx.Bucket(clientIndexBucket)
		if idx == nil {
			return ErrNoChanDBExists
		}

		key := ch.ID[:]
		if bucket.Get(key) != nil {
			return ErrChannelAlreadyExists
		}

		idxKey := clientIndexKey(ch.VendorID, ch.ClientPublicKey)
		if idx.Get(idxKey) != nil {
			return ErrClientAlreadyOpen
		}

		encoded, err := encodeChannel(ch)
		if err != nil {
			return err
		}
		if err := bucket.Put(key, encoded); err != nil {
			return err
		}
		return idx.Put(idxKey, key)
	})
}

// Get fetches the channel record for id as it stood at the moment of the
// call. Callers must not treat the returned record as current by the time
// they act on it; use ApplyPayment or Close for any read-then-write
// sequence.
func (d *DB) Get(id ChannelID) (*Channel, error) {
	var ch *Channel
	err := d.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(channelBucket)
		if bucket == nil {
			return ErrNoChanDBExists
		}

		data := bucket.Get(id[:])
		if data == nil {
			return ErrChannelNotFound
		}

		decoded, err := decodeChannel(id, data)
		if err != nil {
			return err
		}
		ch = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// ApplyPayment loads the channel's current state, checks it is open and
// matches mode, runs the per-mode guard against candidate, and stores
// candidate as the new LatestState — all inside one bbolt transaction
// (§4.2.2, I6). build is invoked with the channel's current state and
// returns the candidate the guard should evaluate; it lets the caller
// derive the proof/signature payload it writes into the candidate from the
// pre-payment state without a separate Get call that could race against
// this transaction.
func (d *DB) ApplyPayment(id ChannelID, mode Mode, build func(current LatestState) (LatestState, error)) (*Channel, error) {
	var updated *Channel
	err := d.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(channelBucket)
		if bucket == nil {
			return ErrNoChanDBExists
		}

		data := bucket.Get(id[:])
		if data == nil {
			return ErrChannelNotFound
		}

		ch, err := decodeChannel(id, data)
		if err != nil {
			return err
		}

		if ch.Status == StatusClosed {
			return ErrChannelClosed
		}
		if ch.Mode != mode {
			return ErrModeMismatch
		}

		candidate, err := build(ch.LatestState)
		if err != nil {
			return err
		}

		if err := applyGuard(ch, candidate); err != nil {
			return err
		}

		ch.LatestState = candidate
		encoded, err := encodeChannel(ch)
		if err != nil {
			return err
		}
		if err := bucket.Put(id[:], encoded); err != nil {
			return err
		}

		updated = ch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Close finalizes the channel with stmt, the first time it is called. On
// every later call it replays the originally stored ClosingRecord verbatim
// rather than erroring, so close is idempotent under retried requests (P8,
// §4.3.5).
func (d *DB) Close(id ChannelID, stmt ClosingRecord) (*ClosingRecord, error) {
	var record *ClosingRecord
	err := d.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(channelBucket)
		if bucket == nil {
			return ErrNoChanDBExists
		}
		idx := tx.Bucket(clientIndexBucket)
		if idx == nil {
			return ErrNoChanDBExists
		}

		data := bucket.Get(id[:])
		if data == nil {
			return ErrChannelNotFound
		}

		ch, err := decodeChannel(id, data)
		if err != nil {
			return err
		}

		if ch.ClosedStatement != nil {
			record = ch.ClosedStatement
			return nil
		}

		ch.Status = StatusClosed
		ch.ClosedStatement = &stmt
		record = &stmt

		encoded, err := encodeChannel(ch)
		if err != nil {
			return err
		}
		if err := bucket.Put(id[:], encoded); err != nil {
			return err
		}

		// Freeing the client's index slot lets them open a fresh channel
		// once this one is closed (§3.5 binds only currently-open channels).
		return idx.Delete(clientIndexKey(ch.VendorID, ch.ClientPublicKey))
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}
