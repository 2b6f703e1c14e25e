package workload

import (
	"os"
	"strings"
	"testing"

	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/topology"
)

func TestParseTrace_AllOpKinds(t *testing.T) {
	trace := strings.Join([]string{
		"# comment lines and blanks are skipped",
		"",
		"SEND dst=1 tag=7 bytes=1024 req=1",
		"ISEND dst=2 tag=8 bytes=2048 req=2",
		"RECV src=1 tag=7 bytes=1024 req=3",
		"IRECV src=* tag=* bytes=512 req=4",
		"WAIT req=1",
		"WAITALL reqs=1,2,3",
		"WAITANY reqs=1,2",
		"WAITSOME reqs=1,2,3 required=2",
		"DELAY seconds=1.5",
		"COLLECTIVE kind=allreduce",
		"END",
	}, "\n")

	ops, err := parseTrace(strings.NewReader(trace))
	if err != nil {
		t.Fatalf("parseTrace: %v", err)
	}
	if len(ops) != 11 {
		t.Fatalf("got %d ops, want 11", len(ops))
	}

	if ops[0].Code != OpSend || ops[0].Dst != 1 || ops[0].Tag != 7 || ops[0].Bytes != 1024 || ops[0].ReqID != 1 {
		t.Errorf("SEND op = %+v", ops[0])
	}
	if ops[1].Code != OpISend || ops[1].Dst != 2 {
		t.Errorf("ISEND op = %+v", ops[1])
	}
	if ops[2].Code != OpRecv || ops[2].Src != 1 {
		t.Errorf("RECV op = %+v", ops[2])
	}
	if ops[3].Code != OpIRecv || ops[3].Src != Wildcard || ops[3].Tag != Wildcard {
		t.Errorf("IRECV op = %+v, want wildcard src/tag", ops[3])
	}
	if ops[4].Code != OpWait || len(ops[4].ReqIDs) != 1 || ops[4].ReqIDs[0] != 1 {
		t.Errorf("WAIT op = %+v", ops[4])
	}
	if ops[5].Code != OpWaitAll || len(ops[5].ReqIDs) != 3 {
		t.Errorf("WAITALL op = %+v", ops[5])
	}
	if ops[6].Code != OpWaitAny || len(ops[6].ReqIDs) != 2 {
		t.Errorf("WAITANY op = %+v", ops[6])
	}
	if ops[7].Code != OpWaitSome || ops[7].RequiredCount != 2 {
		t.Errorf("WAITSOME op = %+v", ops[7])
	}
	if ops[8].Code != OpDelay || ops[8].DelaySeconds != 1.5 {
		t.Errorf("DELAY op = %+v", ops[8])
	}
	if ops[9].Code != OpCollective || ops[9].CollectiveKind != "allreduce" {
		t.Errorf("COLLECTIVE op = %+v", ops[9])
	}
	if ops[10].Code != OpEnd {
		t.Errorf("END op = %+v", ops[10])
	}
}

func TestParseTrace_UnrecognizedOpFails(t *testing.T) {
	_, err := parseTrace(strings.NewReader("BOGUS foo=1\n"))
	if err == nil {
		t.Fatal("expected error for unrecognized op, got nil")
	}
	if !strings.Contains(err.Error(), "line 1") {
		t.Errorf("error = %v, want it to name the line number", err)
	}
}

func TestParseTrace_MalformedFieldFails(t *testing.T) {
	_, err := parseTrace(strings.NewReader("SEND dst\n"))
	if err == nil {
		t.Fatal("expected error for malformed field, got nil")
	}
}

func TestDumpiFileProvider_SequentialAndRewind(t *testing.T) {
	dir := t.TempDir()
	prefix := dir + "/trace"
	writeTraceFile(t, prefix+".0", "SEND dst=1 tag=0 bytes=64 req=1\nEND\n")
	writeTraceFile(t, prefix+".1", "RECV src=0 tag=0 bytes=64 req=1\nEND\n")

	p, err := NewDumpiFileProvider(prefix, 2)
	if err != nil {
		t.Fatalf("NewDumpiFileProvider: %v", err)
	}

	op, err := p.NextOp(0, 0, topology.RankID(0))
	if err != nil {
		t.Fatalf("NextOp: %v", err)
	}
	if op.Code != OpSend {
		t.Fatalf("rank 0 first op = %v, want OpSend", op.Code)
	}

	op1, err := p.NextOp(0, 0, topology.RankID(1))
	if err != nil {
		t.Fatalf("NextOp rank 1: %v", err)
	}
	if op1.Code != OpRecv {
		t.Fatalf("rank 1 first op = %v, want OpRecv", op1.Code)
	}

	if err := p.NextOpRC(0, 0, topology.RankID(0)); err != nil {
		t.Fatalf("NextOpRC: %v", err)
	}
	replay, err := p.NextOp(0, 0, topology.RankID(0))
	if err != nil {
		t.Fatalf("NextOp after rollback: %v", err)
	}
	if replay.Code != OpSend {
		t.Errorf("replayed op = %v, want OpSend", replay.Code)
	}
}

func TestNewDumpiFileProvider_MissingFileErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewDumpiFileProvider(dir+"/nonexistent", 1); err == nil {
		t.Error("expected error for missing trace file, got nil")
	}
}

func writeTraceFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
