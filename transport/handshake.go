package transport

import "github.com/nicesj/widget-provider/errors"

// HelloInfo is the slave identity handed over during the initial
// handshake (spec.md §6 "hello, hello_sync_prepare, hello_sync").
type HelloInfo struct {
	ProtocolVersion int32
	SlaveName       string
	ABI             string
	HWAccel         string
}

// EncodeHello builds the outbound `hello` payload: format `isss`
// (spec.md §6).
func EncodeHello(info HelloInfo) []byte {
	return NewPayloadWriter().
		Int(info.ProtocolVersion).
		String(info.SlaveName).
		String(info.ABI).
		String(info.HWAccel).
		Bytes()
}

// EncodeHelloSyncPrepare builds the `hello_sync_prepare` payload: a single double
// (spec.md §6, format `d`), typically a monotonic timestamp used to
// correlate the subsequent hello_sync round-trip.
func EncodeHelloSyncPrepare(timestamp float64) []byte {
	return NewPayloadWriter().Double(timestamp).Bytes()
}

// HelloSync is the decoded `hello_sync` payload: format `disssss`
// (spec.md §6).
type HelloSync struct {
	Timestamp   float64
	MasterName  string
	ImageDir    string
	LockDir     string
	AdminSocket string
	Extra1      string
	Extra2      string
}

// DecodeHelloSync parses a hello_sync payload.
func DecodeHelloSync(payload []byte) (HelloSync, error) {
	r := NewPayloadReader(payload)

	var hs HelloSync
	var err error
	if hs.Timestamp, err = r.Double(); err != nil {
		return HelloSync{}, errors.Wrap(err, "hello_sync: timestamp")
	}
	if hs.MasterName, err = r.String(); err != nil {
		return HelloSync{}, errors.Wrap(err, "hello_sync: master_name")
	}
	if hs.ImageDir, err = r.String(); err != nil {
		return HelloSync{}, errors.Wrap(err, "hello_sync: image_dir")
	}
	if hs.LockDir, err = r.String(); err != nil {
		return HelloSync{}, errors.Wrap(err, "hello_sync: lock_dir")
	}
	if hs.AdminSocket, err = r.String(); err != nil {
		return HelloSync{}, errors.Wrap(err, "hello_sync: admin_socket")
	}
	if hs.Extra1, err = r.String(); err != nil {
		return HelloSync{}, errors.Wrap(err, "hello_sync: extra1")
	}
	if hs.Extra2, err = r.String(); err != nil {
		return HelloSync{}, errors.Wrap(err, "hello_sync: extra2")
	}
	return hs, nil
}
