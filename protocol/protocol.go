// Package protocol implements the cluster wire format. Every message is a
// single NMEA style sentence
//
//	$TTTTT,field1,field2,...*HH\r\n
//
// where TTTTT is a five letter type tag and HH is the uppercase hex XOR of
// all bytes between '$' and '*'. 32-bit header words (version, mask, target,
// ntime) and byte strings travel as lowercase hex, counters and ids as
// decimal ASCII. Trailing optional fields may be absent on the wire and
// decode to their zero defaults.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	fasthex "github.com/tmthrgd/go-hex"

	"github.com/ShaeOJ/ClusterAxe-sub000/types"
)

const (
	TypeWork      = "CLWRK"
	TypeResult    = "CLSHR"
	TypeHeartbeat = "CLHBT"
	TypeRegister  = "CLREG"
	TypeAck       = "CLACK"
	TypeBeacon    = "CLDSC"
)

// Worst case sentence lengths, terminator included. A transport whose frame
// budget is below MaxExtendedWork carries compact work sentences.
const (
	MaxCompactWork  = 248
	MaxExtendedWork = 284
	MaxSentence     = 512
)

var (
	ErrBufferTooSmall = errors.New("protocol: buffer too small")
	ErrBadChecksum    = errors.New("protocol: checksum mismatch")
	ErrMalformed      = errors.New("protocol: malformed sentence")
	ErrMissingField   = errors.New("protocol: missing required field")
	ErrUnknownType    = errors.New("protocol: unknown message type")
)

// Checksum XORs the payload bytes, i.e. everything between '$' and '*'.
func Checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum ^= b
	}
	return sum
}

func encode(buf []byte, typ string, fields []string) (int, error) {
	var sb strings.Builder
	sb.WriteString(typ)
	for _, f := range fields {
		sb.WriteByte(',')
		sb.WriteString(f)
	}
	payload := sb.String()
	n := 1 + len(payload) + 5
	if n > len(buf) {
		return 0, ErrBufferTooSmall
	}
	buf[0] = '$'
	copy(buf[1:], payload)
	sum := Checksum([]byte(payload))
	copy(buf[1+len(payload):], fmt.Sprintf("*%02X\r\n", sum))
	return n, nil
}

// Parse validates framing and checksum and splits the sentence into its type
// tag and fields. The trailing \r\n is optional.
func Parse(raw []byte) (string, []string, error) {
	raw = bytes.TrimRight(raw, "\r\n")
	if len(raw) < 9 || raw[0] != '$' {
		return "", nil, ErrMalformed
	}
	star := bytes.LastIndexByte(raw, '*')
	if star < 0 || star+3 != len(raw) {
		return "", nil, ErrMalformed
	}
	payload := raw[1:star]
	want, err := strconv.ParseUint(string(raw[star+1:]), 16, 8)
	if err != nil {
		return "", nil, ErrMalformed
	}
	if Checksum(payload) != byte(want) {
		return "", nil, ErrBadChecksum
	}
	parts := strings.Split(string(payload), ",")
	if len(parts[0]) != 5 {
		return "", nil, ErrMalformed
	}
	return parts[0], parts[1:], nil
}

func parseUint(f string, bits int) (uint64, error) {
	return strconv.ParseUint(f, 10, bits)
}

func parseHex32(f string) (uint32, error) {
	v, err := strconv.ParseUint(f, 16, 32)
	return uint32(v), err
}

// EncodeWork writes a CLWRK sentence for one worker into buf. The extended
// form appends destination tag, block height and network difficulty, which
// only fit on transports with a large enough frame budget.
func EncodeWork(buf []byte, w *types.WorkUnit, extended bool) (int, error) {
	fields := []string{
		strconv.Itoa(w.TargetWorker),
		strconv.FormatUint(uint64(w.JobID), 10),
		fasthex.EncodeToString(w.PrevRef[:]),
		fasthex.EncodeToString(w.CommitRoot[:]),
		fmt.Sprintf("%08x", w.Version),
		fmt.Sprintf("%08x", w.VersionMask),
		fmt.Sprintf("%08x", w.Target),
		fmt.Sprintf("%08x", w.NTime),
		strconv.FormatUint(uint64(w.NonceStart), 10),
		strconv.FormatUint(uint64(w.NonceEnd), 10),
		fasthex.EncodeToString(w.Extranonce[:w.ExtranonceLen]),
		strconv.Itoa(int(w.ExtranonceLen)),
		boolField(w.Clean),
		strconv.FormatUint(uint64(w.MinDifficulty), 10),
	}
	if extended {
		fields = append(fields,
			strconv.Itoa(int(w.Destination)),
			strconv.FormatUint(uint64(w.BlockHeight), 10),
			w.NetworkDiff,
		)
	}
	return encode(buf, TypeWork, fields)
}

func DecodeWork(fields []string) (*types.WorkUnit, error) {
	if len(fields) < 14 {
		return nil, ErrMissingField
	}
	w := &types.WorkUnit{}
	tw, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, ErrMalformed
	}
	w.TargetWorker = tw
	job, err := parseUint(fields[1], 32)
	if err != nil {
		return nil, ErrMalformed
	}
	w.JobID = uint32(job)
	if err := decodeHash(fields[2], w.PrevRef[:]); err != nil {
		return nil, err
	}
	if err := decodeHash(fields[3], w.CommitRoot[:]); err != nil {
		return nil, err
	}
	for i, dst := range []*uint32{&w.Version, &w.VersionMask, &w.Target, &w.NTime} {
		v, err := parseHex32(fields[4+i])
		if err != nil {
			return nil, ErrMalformed
		}
		*dst = v
	}
	ns, err := parseUint(fields[8], 32)
	if err != nil {
		return nil, ErrMalformed
	}
	ne, err := parseUint(fields[9], 32)
	if err != nil {
		return nil, ErrMalformed
	}
	w.NonceStart, w.NonceEnd = uint32(ns), uint32(ne)
	en, err := fasthex.DecodeString(fields[10])
	if err != nil || len(en) > len(w.Extranonce) {
		return nil, ErrMalformed
	}
	copy(w.Extranonce[:], en)
	enlen, err := parseUint(fields[11], 8)
	if err != nil || int(enlen) != len(en) {
		return nil, ErrMalformed
	}
	w.ExtranonceLen = uint8(enlen)
	w.Clean = fields[12] == "1"
	md, err := parseUint(fields[13], 32)
	if err != nil {
		return nil, ErrMalformed
	}
	w.MinDifficulty = uint32(md)
	if len(fields) > 14 && fields[14] != "" {
		d, err := parseUint(fields[14], 8)
		if err != nil || d >= types.MaxDestinations {
			return nil, ErrMalformed
		}
		w.Destination = uint8(d)
	}
	if len(fields) > 15 && fields[15] != "" {
		h, err := parseUint(fields[15], 32)
		if err != nil {
			return nil, ErrMalformed
		}
		w.BlockHeight = uint32(h)
	}
	if len(fields) > 16 {
		w.NetworkDiff = fields[16]
	}
	return w, nil
}

func EncodeResult(buf []byte, r *types.ResultSubmission) (int, error) {
	fields := []string{
		strconv.Itoa(r.WorkerID),
		strconv.FormatUint(uint64(r.JobID), 10),
		fmt.Sprintf("%08x", r.Nonce),
		fmt.Sprintf("%08x", r.NTime),
		fmt.Sprintf("%08x", r.Version),
		fasthex.EncodeToString(r.Extranonce[:r.ExtranonceLen]),
		strconv.Itoa(int(r.ExtranonceLen)),
		strconv.Itoa(int(r.Destination)),
	}
	return encode(buf, TypeResult, fields)
}

func DecodeResult(fields []string) (*types.ResultSubmission, error) {
	if len(fields) < 7 {
		return nil, ErrMissingField
	}
	r := &types.ResultSubmission{}
	id, err := strconv.Atoi(fields[0])
	if err != nil || id < 0 {
		return nil, ErrMalformed
	}
	r.WorkerID = id
	job, err := parseUint(fields[1], 32)
	if err != nil {
		return nil, ErrMalformed
	}
	r.JobID = uint32(job)
	for i, dst := range []*uint32{&r.Nonce, &r.NTime, &r.Version} {
		v, err := parseHex32(fields[2+i])
		if err != nil {
			return nil, ErrMalformed
		}
		*dst = v
	}
	en, err := fasthex.DecodeString(fields[5])
	if err != nil || len(en) > len(r.Extranonce) {
		return nil, ErrMalformed
	}
	copy(r.Extranonce[:], en)
	enlen, err := parseUint(fields[6], 8)
	if err != nil || int(enlen) != len(en) {
		return nil, ErrMalformed
	}
	r.ExtranonceLen = uint8(enlen)
	if len(fields) > 7 && fields[7] != "" {
		d, err := parseUint(fields[7], 8)
		if err != nil || d >= types.MaxDestinations {
			return nil, ErrMalformed
		}
		r.Destination = uint8(d)
	}
	return r, nil
}

// EncodeHeartbeat writes a CLHBT sentence. The extended form appends the
// frequency, voltage and power telemetry the compact form leaves out.
func EncodeHeartbeat(buf []byte, hb *types.Heartbeat, extended bool) (int, error) {
	fields := []string{
		strconv.Itoa(hb.WorkerID),
		strconv.FormatFloat(hb.Hashrate, 'f', 2, 64),
		strconv.FormatFloat(hb.Temperature, 'f', 1, 64),
		strconv.FormatUint(uint64(hb.FanRPM), 10),
		strconv.FormatUint(uint64(hb.Results), 10),
	}
	if extended {
		fields = append(fields,
			strconv.FormatUint(uint64(hb.Frequency), 10),
			strconv.FormatUint(uint64(hb.CoreVoltage), 10),
			strconv.FormatFloat(hb.Power, 'f', 2, 64),
			strconv.FormatFloat(hb.InputVoltage, 'f', 2, 64),
		)
	}
	return encode(buf, TypeHeartbeat, fields)
}

func DecodeHeartbeat(fields []string) (*types.Heartbeat, error) {
	if len(fields) < 5 {
		return nil, ErrMissingField
	}
	hb := &types.Heartbeat{}
	id, err := strconv.Atoi(fields[0])
	if err != nil || id < 0 {
		return nil, ErrMalformed
	}
	hb.WorkerID = id
	if hb.Hashrate, err = strconv.ParseFloat(fields[1], 64); err != nil {
		return nil, ErrMalformed
	}
	if hb.Temperature, err = strconv.ParseFloat(fields[2], 64); err != nil {
		return nil, ErrMalformed
	}
	fan, err := parseUint(fields[3], 32)
	if err != nil {
		return nil, ErrMalformed
	}
	hb.FanRPM = uint32(fan)
	res, err := parseUint(fields[4], 32)
	if err != nil {
		return nil, ErrMalformed
	}
	hb.Results = uint32(res)
	if len(fields) > 5 && fields[5] != "" {
		f, err := parseUint(fields[5], 16)
		if err != nil {
			return nil, ErrMalformed
		}
		hb.Frequency = uint16(f)
	}
	if len(fields) > 6 && fields[6] != "" {
		v, err := parseUint(fields[6], 16)
		if err != nil {
			return nil, ErrMalformed
		}
		hb.CoreVoltage = uint16(v)
	}
	if len(fields) > 7 && fields[7] != "" {
		if hb.Power, err = strconv.ParseFloat(fields[7], 64); err != nil {
			return nil, ErrMalformed
		}
	}
	if len(fields) > 8 && fields[8] != "" {
		if hb.InputVoltage, err = strconv.ParseFloat(fields[8], 64); err != nil {
			return nil, ErrMalformed
		}
	}
	return hb, nil
}

func EncodeRegister(buf []byte, name, netAddr string) (int, error) {
	if strings.ContainsAny(name, ",*$") || strings.ContainsAny(netAddr, ",*$") {
		return 0, ErrMalformed
	}
	return encode(buf, TypeRegister, []string{name, netAddr})
}

func DecodeRegister(fields []string) (name, netAddr string, err error) {
	if len(fields) < 1 || fields[0] == "" {
		return "", "", ErrMissingField
	}
	name = fields[0]
	if len(fields) > 1 {
		netAddr = fields[1]
	}
	return name, netAddr, nil
}

func EncodeAck(buf []byte, workerID int, status string) (int, error) {
	return encode(buf, TypeAck, []string{strconv.Itoa(workerID), status})
}

func DecodeAck(fields []string) (workerID int, status string, err error) {
	if len(fields) < 1 {
		return 0, "", ErrMissingField
	}
	id, err := strconv.Atoi(fields[0])
	if err != nil || id < 0 {
		return 0, "", ErrMalformed
	}
	if len(fields) > 1 {
		status = fields[1]
	}
	return id, status, nil
}

func EncodeBeacon(buf []byte, addr, clusterID string, channel int) (int, error) {
	if strings.ContainsAny(addr, ",*$") || strings.ContainsAny(clusterID, ",*$") {
		return 0, ErrMalformed
	}
	return encode(buf, TypeBeacon, []string{addr, clusterID, strconv.Itoa(channel)})
}

func DecodeBeacon(fields []string) (addr, clusterID string, channel int, err error) {
	if len(fields) < 2 {
		return "", "", 0, ErrMissingField
	}
	addr, clusterID = fields[0], fields[1]
	if addr == "" {
		return "", "", 0, ErrMissingField
	}
	if len(fields) > 2 && fields[2] != "" {
		channel, err = strconv.Atoi(fields[2])
		if err != nil {
			return "", "", 0, ErrMalformed
		}
	}
	return addr, clusterID, channel, nil
}

func decodeHash(f string, dst []byte) error {
	b, err := fasthex.DecodeString(f)
	if err != nil || len(b) != len(dst) {
		return ErrMalformed
	}
	copy(dst, b)
	return nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
