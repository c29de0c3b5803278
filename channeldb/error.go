package channeldb

import "fmt"

// Store-level sentinel errors, mirroring the closed rejection taxonomy of
// §4.2.4. The payment use-case layer (package core) maps these onto the
// public nmerrors sentinels; the store itself stays free of that
// dependency so it can be exercised in isolation.
var (
	ErrChannelNotFound      = fmt.Errorf("channel_not_found")
	ErrChannelClosed        = fmt.Errorf("channel_closed")
	ErrChannelAlreadyExists = fmt.Errorf("channel_already_exists")
	ErrClientAlreadyOpen    = fmt.Errorf("client_already_has_open_channel")
	ErrModeMismatch         = fmt.Errorf("mode_mismatch")
	ErrNonMonotonicIndex    = fmt.Errorf("non_monotonic_index")
	ErrExceedsChannelAmount = fmt.Errorf("exceeds_channel_amount")
	ErrExceedsIndexCap      = fmt.Errorf("exceeds_index_cap")
	ErrNoChanDBExists       = fmt.Errorf("channel db has not yet been created")
	ErrMetaNotFound         = fmt.Errorf("channeldb: metadata not found")
)
