// Package stats accumulates and persists per-endpoint simulation
// statistics, the mpi-replay-stats stream, and the rank-0 termination
// summary described by spec.md §6.
//
// Grounded on the teacher's sim/metrics.go (accumulator struct +
// Print) and sim/metrics_utils.go (file-writer helpers, logrus-backed
// error reporting), adapted from token/latency/KV-cache fields to the
// per-endpoint send/recv/byte/time fields spec.md §6's stats line
// names.
package stats

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/network"
	"github.com/dragonfly-mpi-replay/dragonfly-mpi-replay/sim/topology"
)

// EndpointLine is one row of the mpi-replay-stats stream, per spec.md
// §6: "<lp_gid> <rank_id> <num_sends> <num_recvs> <bytes_sent>
// <bytes_recvd> <send_time> <comm_time> <compute_time>".
type EndpointLine struct {
	LPGID       int64
	RankID      int
	NumSends    int64
	NumRecvs    int64
	BytesSent   int64
	BytesRecvd  int64
	SendTimeNS  int64
	CommTimeNS  int64
	ComputeTime int64
}

// CommTime is the portion of wall time spent waiting on the network
// (recv + wait), distinct from ComputeTime (delay ops) and SendTime
// (the sender-side portion of a blocking send's round trip).
func commTime(ep *network.Endpoint) int64 {
	return ep.RecvTime + ep.WaitTime
}

// LineFor builds the stats line for a single finalized endpoint.
func LineFor(ep *network.Endpoint) EndpointLine {
	return EndpointLine{
		LPGID:       int64(ep.LP),
		RankID:      int(ep.Rank),
		NumSends:    ep.NumSends,
		NumRecvs:    ep.NumRecvs,
		BytesSent:   ep.NumBytesSent,
		BytesRecvd:  ep.NumBytesRecvd,
		SendTimeNS:  ep.SendTime,
		CommTimeNS:  commTime(ep),
		ComputeTime: ep.ComputeTime,
	}
}

// CollectLines builds one EndpointLine per endpoint, sorted by LP id
// for deterministic output regardless of map iteration order.
func CollectLines(endpoints map[topology.EndpointLPID]*network.Endpoint) []EndpointLine {
	lines := make([]EndpointLine, 0, len(endpoints))
	for _, ep := range endpoints {
		lines = append(lines, LineFor(ep))
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].LPGID < lines[j].LPGID })
	return lines
}

// WriteStatsStream writes the mpi-replay-stats stream to w: a single
// '#'-prefixed header line (emitted by rank 0 only, per spec.md §6)
// followed by one line per endpoint.
func WriteStatsStream(w io.Writer, lines []EndpointLine) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, "# lp_gid rank_id num_sends num_recvs bytes_sent bytes_recvd send_time comm_time compute_time"); err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(bw, "%d %d %d %d %d %d %d %d %d\n",
			l.LPGID, l.RankID, l.NumSends, l.NumRecvs, l.BytesSent, l.BytesRecvd,
			l.SendTimeNS, l.CommTimeNS, l.ComputeTime); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteStatsFile is the lp-io-dir-backed variant of WriteStatsStream:
// opens (truncating) path and writes the stream to it, logging and
// returning the error on failure — mirrors the teacher's
// Metrics.SavetoFile open/defer-close/defer-flush shape.
func WriteStatsFile(path string, lines []EndpointLine) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		logrus.Errorf("stats: error creating file %s: %v", path, err)
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logrus.Errorf("stats: error closing file %s: %v", path, closeErr)
		}
	}()
	if err := WriteStatsStream(f, lines); err != nil {
		logrus.Errorf("stats: error writing stats to %s: %v", path, err)
		return err
	}
	logrus.Debugf("stats: wrote %d endpoint lines to %s", len(lines), path)
	return nil
}
