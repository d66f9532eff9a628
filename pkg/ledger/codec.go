package ledger

import (
	"fmt"
	"sync"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/unijord/tracecurve/pkg/record"
)

const oneKB = 1024

// Field slots of the run table.
const (
	fieldRunID = iota
	fieldRunStarted
	fieldRunConfigPath
	fieldRunDataDir
	fieldRunMaxJobs
	fieldRunNodes
	runFieldCount
)

// Field slots of the job table.
const (
	fieldJobNode = iota
	fieldJobOK
	fieldJobStatus
	fieldJobStopTime
	fieldJobStartTime
	fieldJobCurves
	fieldJobChecksumFiles
	fieldJobChecksumSums
	fieldJobEvents
	fieldJobStarted
	fieldJobFinished
	jobFieldCount
)

var builderPool = sync.Pool{
	New: func() interface{} {
		return flatbuffers.NewBuilder(oneKB)
	},
}

func getBuilder() *flatbuffers.Builder {
	return builderPool.Get().(*flatbuffers.Builder)
}

func putBuilder(b *flatbuffers.Builder) {
	b.Reset()
	builderPool.Put(b)
}

func finish(b *flatbuffers.Builder, root flatbuffers.UOffsetT) []byte {
	b.Finish(root)
	data := b.FinishedBytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// EncodeRun serializes a run.
func EncodeRun(r Run) []byte {
	b := getBuilder()
	defer putBuilder(b)

	id := b.CreateString(r.ID)
	cfgPath := b.CreateString(r.ConfigPath)
	dataDir := b.CreateString(r.DataDir)

	b.StartObject(runFieldCount)
	b.PrependUOffsetTSlot(fieldRunID, id, 0)
	b.PrependInt64Slot(fieldRunStarted, unixNano(r.Started), 0)
	b.PrependUOffsetTSlot(fieldRunConfigPath, cfgPath, 0)
	b.PrependUOffsetTSlot(fieldRunDataDir, dataDir, 0)
	b.PrependInt64Slot(fieldRunMaxJobs, int64(r.MaxJobs), 0)
	b.PrependInt64Slot(fieldRunNodes, int64(r.Nodes), 0)
	return finish(b, b.EndObject())
}

// DecodeRun parses a run produced by EncodeRun. Strings in the result
// share memory with data, which must not be modified or released afterwards.
func DecodeRun(data []byte) (r Run, err error) {
	t, err := rootTable(data)
	if err != nil {
		return Run{}, err
	}
	defer recoverCorrupt(&err)

	return Run{
		ID:         tableString(t, fieldRunID),
		Started:    fromUnixNano(t.GetInt64Slot(slot(fieldRunStarted), 0)),
		ConfigPath: tableString(t, fieldRunConfigPath),
		DataDir:    tableString(t, fieldRunDataDir),
		MaxJobs:    int(t.GetInt64Slot(slot(fieldRunMaxJobs), 0)),
		Nodes:      int(t.GetInt64Slot(slot(fieldRunNodes), 0)),
	}, nil
}

// EncodeJob serializes a job record.
func EncodeJob(j JobRecord) []byte {
	b := getBuilder()
	defer putBuilder(b)

	node := b.CreateString(j.Node)
	status := b.CreateString(j.Status)
	curves := stringVector(b, j.Curves)

	files := make([]string, len(j.Checksums))
	for i, c := range j.Checksums {
		files[i] = c.File
	}
	checksumFiles := stringVector(b, files)

	b.StartVector(8, len(j.Checksums), 8)
	for i := len(j.Checksums) - 1; i >= 0; i-- {
		b.PrependUint64(j.Checksums[i].Sum)
	}
	checksumSums := b.EndVector(len(j.Checksums))

	b.StartObject(jobFieldCount)
	b.PrependUOffsetTSlot(fieldJobNode, node, 0)
	b.PrependBoolSlot(fieldJobOK, j.OK, false)
	b.PrependUOffsetTSlot(fieldJobStatus, status, 0)
	b.PrependInt64Slot(fieldJobStopTime, j.StopTime, 0)
	b.PrependInt64Slot(fieldJobStartTime, j.StartTime, 0)
	b.PrependUOffsetTSlot(fieldJobCurves, curves, 0)
	b.PrependUOffsetTSlot(fieldJobChecksumFiles, checksumFiles, 0)
	b.PrependUOffsetTSlot(fieldJobChecksumSums, checksumSums, 0)
	b.PrependInt64Slot(fieldJobEvents, j.Events, 0)
	b.PrependInt64Slot(fieldJobStarted, unixNano(j.Started), 0)
	b.PrependInt64Slot(fieldJobFinished, unixNano(j.Finished), 0)
	return finish(b, b.EndObject())
}

// DecodeJob parses a job record produced by EncodeJob. Like DecodeRun, the
// result shares memory with data.
func DecodeJob(data []byte) (j JobRecord, err error) {
	t, err := rootTable(data)
	if err != nil {
		return JobRecord{}, err
	}
	defer recoverCorrupt(&err)

	j = JobRecord{
		Node:      tableString(t, fieldJobNode),
		OK:        t.GetBoolSlot(slot(fieldJobOK), false),
		Status:    tableString(t, fieldJobStatus),
		StopTime:  t.GetInt64Slot(slot(fieldJobStopTime), 0),
		StartTime: t.GetInt64Slot(slot(fieldJobStartTime), 0),
		Curves:    tableStrings(t, fieldJobCurves),
		Events:    t.GetInt64Slot(slot(fieldJobEvents), 0),
		Started:   fromUnixNano(t.GetInt64Slot(slot(fieldJobStarted), 0)),
		Finished:  fromUnixNano(t.GetInt64Slot(slot(fieldJobFinished), 0)),
	}

	files := tableStrings(t, fieldJobChecksumFiles)
	if o := flatbuffers.UOffsetT(t.Offset(slot(fieldJobChecksumSums))); o != 0 {
		n := t.VectorLen(o)
		if n != len(files) {
			return JobRecord{}, fmt.Errorf("%w: %d checksum files, %d sums", ErrCorrupt, len(files), n)
		}
		at := t.Vector(o)
		for i := 0; i < n; i++ {
			j.Checksums = append(j.Checksums, record.Checksum{
				File: files[i],
				Sum:  t.GetUint64(at + flatbuffers.UOffsetT(i*8)),
			})
		}
	} else if len(files) != 0 {
		return JobRecord{}, fmt.Errorf("%w: checksum sums missing", ErrCorrupt)
	}
	return j, nil
}

func stringVector(b *flatbuffers.Builder, ss []string) flatbuffers.UOffsetT {
	offs := make([]flatbuffers.UOffsetT, len(ss))
	for i, s := range ss {
		offs[i] = b.CreateString(s)
	}
	b.StartVector(flatbuffers.SizeUOffsetT, len(offs), flatbuffers.SizeUOffsetT)
	for i := len(offs) - 1; i >= 0; i-- {
		b.PrependUOffsetT(offs[i])
	}
	return b.EndVector(len(offs))
}

// slot maps a field index to its vtable offset.
func slot(field int) flatbuffers.VOffsetT {
	return flatbuffers.VOffsetT(4 + 2*field)
}

func rootTable(data []byte) (*flatbuffers.Table, error) {
	if len(data) < flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorrupt, len(data))
	}
	pos := flatbuffers.GetUOffsetT(data)
	if int(pos) >= len(data) {
		return nil, fmt.Errorf("%w: root offset %d out of range", ErrCorrupt, pos)
	}
	return &flatbuffers.Table{Bytes: data, Pos: pos}, nil
}

func tableString(t *flatbuffers.Table, field int) string {
	o := flatbuffers.UOffsetT(t.Offset(slot(field)))
	if o == 0 {
		return ""
	}
	return t.String(o + t.Pos)
}

func tableStrings(t *flatbuffers.Table, field int) []string {
	o := flatbuffers.UOffsetT(t.Offset(slot(field)))
	if o == 0 {
		return nil
	}
	n := t.VectorLen(o)
	if n == 0 {
		return nil
	}
	at := t.Vector(o)
	out := make([]string, n)
	for i := range out {
		out[i] = t.String(at + flatbuffers.UOffsetT(i*flatbuffers.SizeUOffsetT))
	}
	return out
}

// recoverCorrupt turns an out-of-range read on malformed input into ErrCorrupt.
func recoverCorrupt(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", ErrCorrupt, r)
	}
}
