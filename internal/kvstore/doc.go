// Package kvstore is the device configuration store: a small transactional
// key-value store kept directly in NOR flash pages.
//
// Each record is a CBOR payload {seq, key, value} carrying a keyed BLAKE3
// digest, followed by a commit word written only after the body landed.
// Mount replays the pages oldest first and keeps, per key, the committed
// record with the highest sequence number.
//
// Typical boot usage:
//
//	store := kvstore.New(pages)
//	if err := store.Mount(); err != nil {
//		logging.Warn("Mount failed, formatting", zap.Error(err))
//		if err := store.Format(); err != nil {
//			return err
//		}
//	}
//	v, err := store.Read("wifi.ssid", 32)
package kvstore
