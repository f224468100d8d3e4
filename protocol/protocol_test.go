package protocol

import (
	"fmt"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShaeOJ/ClusterAxe-sub000/types"
)

func sampleWork() *types.WorkUnit {
	w := &types.WorkUnit{
		TargetWorker:  3,
		JobID:         4711,
		Version:       0x20000000,
		VersionMask:   0x1fffe000,
		Target:        0x1705dd01,
		NTime:         0x66f2aa01,
		NonceStart:    0x20000000,
		NonceEnd:      0x3fffffff,
		ExtranonceLen: 4,
		Clean:         true,
		MinDifficulty: 512,
		Destination:   1,
		BlockHeight:   861234,
		NetworkDiff:   "90.67T",
	}
	for i := range w.PrevRef {
		w.PrevRef[i] = byte(i)
		w.CommitRoot[i] = byte(0xff - i)
	}
	copy(w.Extranonce[:], []byte{0x04, 0xab, 0xcd, 0xef})
	return w
}

func TestWorkRoundTrip(t *testing.T) {
	for _, extended := range []bool{false, true} {
		t.Run(fmt.Sprintf("extended=%v", extended), func(t *testing.T) {
			w := sampleWork()
			buf := make([]byte, MaxSentence)
			n, err := EncodeWork(buf, w, extended)
			require.NoError(t, err)
			require.LessOrEqual(t, n, MaxExtendedWork)
			if !extended {
				require.LessOrEqual(t, n, MaxCompactWork)
			}

			typ, fields, err := Parse(buf[:n])
			require.NoError(t, err, spew.Sdump(buf[:n]))
			require.Equal(t, TypeWork, typ)
			got, err := DecodeWork(fields)
			require.NoError(t, err)

			want := *w
			if !extended {
				want.Destination = 0
				want.BlockHeight = 0
				want.NetworkDiff = ""
			}
			assert.Equal(t, &want, got)
		})
	}
}

func TestResultRoundTrip(t *testing.T) {
	r := &types.ResultSubmission{
		WorkerID:      5,
		JobID:         4711,
		Nonce:         0xdeadbeef,
		NTime:         0x66f2aa05,
		Version:       0x20004000,
		ExtranonceLen: 4,
		Destination:   1,
	}
	copy(r.Extranonce[:], []byte{0x06, 0x01, 0x02, 0x03})

	buf := make([]byte, MaxSentence)
	n, err := EncodeResult(buf, r)
	require.NoError(t, err)

	typ, fields, err := Parse(buf[:n])
	require.NoError(t, err)
	require.Equal(t, TypeResult, typ)
	got, err := DecodeResult(fields)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestHeartbeatRoundTrip(t *testing.T) {
	hb := &types.Heartbeat{
		WorkerID: 2,
		Results:  117,
		Telemetry: types.Telemetry{
			Hashrate:     512.25,
			Temperature:  58.5,
			FanRPM:       4620,
			Frequency:    525,
			CoreVoltage:  1166,
			Power:        13.82,
			InputVoltage: 5.03,
		},
	}

	buf := make([]byte, MaxSentence)

	n, err := EncodeHeartbeat(buf, hb, true)
	require.NoError(t, err)
	typ, fields, err := Parse(buf[:n])
	require.NoError(t, err)
	require.Equal(t, TypeHeartbeat, typ)
	got, err := DecodeHeartbeat(fields)
	require.NoError(t, err)
	assert.Equal(t, hb, got)

	// Compact form drops the trailing telemetry and decodes to zeros.
	n, err = EncodeHeartbeat(buf, hb, false)
	require.NoError(t, err)
	_, fields, err = Parse(buf[:n])
	require.NoError(t, err)
	got, err = DecodeHeartbeat(fields)
	require.NoError(t, err)
	assert.Zero(t, got.Frequency)
	assert.Zero(t, got.CoreVoltage)
	assert.Zero(t, got.Power)
	assert.Equal(t, hb.Hashrate, got.Hashrate)
	assert.Equal(t, hb.FanRPM, got.FanRPM)
}

func TestRegisterAckBeacon(t *testing.T) {
	buf := make([]byte, MaxSentence)

	n, err := EncodeRegister(buf, "axe-07", "10.0.0.57")
	require.NoError(t, err)
	typ, fields, err := Parse(buf[:n])
	require.NoError(t, err)
	require.Equal(t, TypeRegister, typ)
	name, addr, err := DecodeRegister(fields)
	require.NoError(t, err)
	assert.Equal(t, "axe-07", name)
	assert.Equal(t, "10.0.0.57", addr)

	n, err = EncodeAck(buf, 0, "registered")
	require.NoError(t, err)
	typ, fields, err = Parse(buf[:n])
	require.NoError(t, err)
	require.Equal(t, TypeAck, typ)
	id, status, err := DecodeAck(fields)
	require.NoError(t, err)
	assert.Equal(t, 0, id)
	assert.Equal(t, "registered", status)

	n, err = EncodeBeacon(buf, "192.168.4.1:48861", "rack-a", 1)
	require.NoError(t, err)
	typ, fields, err = Parse(buf[:n])
	require.NoError(t, err)
	require.Equal(t, TypeBeacon, typ)
	baddr, cid, ch, err := DecodeBeacon(fields)
	require.NoError(t, err)
	assert.Equal(t, "192.168.4.1:48861", baddr)
	assert.Equal(t, "rack-a", cid)
	assert.Equal(t, 1, ch)
}

func TestParseRejectsCorruption(t *testing.T) {
	buf := make([]byte, MaxSentence)
	n, err := EncodeHeartbeat(buf, &types.Heartbeat{WorkerID: 1}, false)
	require.NoError(t, err)
	good := append([]byte(nil), buf[:n]...)

	_, _, err = Parse(good)
	require.NoError(t, err)

	// Single bit flip in the payload must fail the checksum.
	bad := append([]byte(nil), good...)
	bad[8] ^= 0x04
	_, _, err = Parse(bad)
	assert.ErrorIs(t, err, ErrBadChecksum)

	for _, raw := range []string{
		"",
		"CLHBT,1,0.00,0.0,0,0*00",
		"$CLHBT,1,0.00,0.0,0,0",
		"$CLHBT,1,0.00,0.0,0,0*ZZ",
		"$HB,1*00",
	} {
		_, _, err := Parse([]byte(raw))
		assert.Error(t, err, "raw=%q", raw)
	}
}

func TestDecodeRejectsMissingRequired(t *testing.T) {
	_, err := DecodeWork([]string{"1", "42"})
	assert.ErrorIs(t, err, ErrMissingField)
	_, err = DecodeResult([]string{"1", "42", "deadbeef"})
	assert.ErrorIs(t, err, ErrMissingField)
	_, err = DecodeHeartbeat([]string{"1", "0.0"})
	assert.ErrorIs(t, err, ErrMissingField)
	_, _, err = DecodeRegister([]string{""})
	assert.ErrorIs(t, err, ErrMissingField)
	_, _, _, err = DecodeBeacon([]string{"192.168.4.1:48861"})
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestEncodeBufferBound(t *testing.T) {
	small := make([]byte, 32)
	_, err := EncodeWork(small, sampleWork(), true)
	assert.ErrorIs(t, err, ErrBufferTooSmall)

	// An undersized buffer must stay untouched past its bound.
	n, err := EncodeAck(small, 7, "ok")
	require.NoError(t, err)
	require.LessOrEqual(t, n, len(small))
}
