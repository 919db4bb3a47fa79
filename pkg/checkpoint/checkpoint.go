// Package checkpoint implements the periodic durable snapshot and
// restore contract of spec.md section 4.7: serialize a Population to a
// file named from its iteration and best fitness, in one of three
// selectable formats.
package checkpoint

import (
	"bufio"
	"encoding/base64"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gemfony/optevo/pkg/errs"
	"github.com/gemfony/optevo/pkg/individual"
	"github.com/gemfony/optevo/pkg/population"
)

// Format selects the encoding a Checkpointer writes and reads.
type Format int

const (
	// Text is the human-readable key=value format.
	Text Format = iota
	// Structured is encoding/json, matching pkg/config's file format.
	Structured
	// Binary is encoding/gob: compact, self-describing, stdlib — no pack
	// example ships a generated protobuf schema compilable without
	// protoc, and gob is the idiomatic stdlib choice for a Go-to-Go
	// compact binary format (see DESIGN.md).
	Binary
)

// snapshot is the serializable view of a Population: individuals plus
// the counters a restore must reproduce exactly for checkpoint
// round-trip reproducibility.
type snapshot struct {
	Individuals []*individual.Individual
	Iteration   uint32
	BestKnown   float64
	NStalls     uint32
	Maximize    bool
	RNGState    []byte
}

func toSnapshot(p *population.Population) *snapshot {
	return &snapshot{
		Individuals: p.Individuals,
		Iteration:   p.Iteration,
		BestKnown:   p.BestKnown,
		NStalls:     p.NStalls,
		Maximize:    p.Maximize,
		RNGState:    p.RNGState,
	}
}

// Checkpointer periodically snapshots a Population to disk.
type Checkpointer struct {
	Dir    string
	Base   string
	Format Format
}

// New constructs a Checkpointer writing into dir, naming files after
// base, in the given format.
func New(dir, base string, format Format) *Checkpointer {
	return &Checkpointer{Dir: dir, Base: base, Format: format}
}

// fileName builds "{iteration_or_final}_{best_fitness}_{base}" per
// spec.md section 6. iteration < 0 selects "final".
func (c *Checkpointer) fileName(iteration int, bestFitness float64) string {
	iterPart := "final"
	if iteration >= 0 {
		iterPart = strconv.Itoa(iteration)
	}

	return fmt.Sprintf("%s_%s_%s", iterPart, strconv.FormatFloat(bestFitness, 'g', -1, 64), c.Base)
}

// Save writes p to a new checkpoint file under Dir. Pass iteration < 0
// for the final checkpoint taken at run completion.
func (c *Checkpointer) Save(p *population.Population, iteration int) (string, error) {
	path := filepath.Join(c.Dir, c.fileName(iteration, p.BestKnown))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("checkpoint: create %s: %w", path, err)
	}
	defer f.Close()

	snap := toSnapshot(p)

	if err := c.encode(f, snap); err != nil {
		return "", fmt.Errorf("checkpoint: encode %s: %w", path, err)
	}

	return path, nil
}

func (c *Checkpointer) encode(f *os.File, snap *snapshot) error {
	switch c.Format {
	case Text:
		return encodeText(f, snap)
	case Structured:
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")

		return enc.Encode(snap)
	case Binary:
		return gob.NewEncoder(f).Encode(snap)
	default:
		return fmt.Errorf("checkpoint: unknown format %d", c.Format)
	}
}

// Load restores a Population from a checkpoint file. Restore is
// all-or-nothing: any parse failure returns ErrCheckpointCorrupt.
//
// Restoring into a population of different size than the file
// describes: existing slots in dst are overwritten by deserialized
// individuals; missing slots are appended.
func (c *Checkpointer) Load(path string, dst *population.Population) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", errs.ErrCheckpointCorrupt, path, err)
	}
	defer f.Close()

	snap, err := c.decode(f)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrCheckpointCorrupt, err)
	}

	for i, ind := range snap.Individuals {
		if i < len(dst.Individuals) {
			dst.Individuals[i] = ind
		} else {
			dst.Individuals = append(dst.Individuals, ind)
		}
	}

	dst.Iteration = snap.Iteration
	dst.BestKnown = snap.BestKnown
	dst.NStalls = snap.NStalls
	dst.Maximize = snap.Maximize
	dst.RNGState = snap.RNGState

	return nil
}

func (c *Checkpointer) decode(f *os.File) (*snapshot, error) {
	switch c.Format {
	case Text:
		return decodeText(f)
	case Structured:
		var snap snapshot
		if err := json.NewDecoder(f).Decode(&snap); err != nil {
			return nil, err
		}

		return &snap, nil
	case Binary:
		var snap snapshot
		if err := gob.NewDecoder(f).Decode(&snap); err != nil {
			return nil, err
		}

		return &snap, nil
	default:
		return nil, fmt.Errorf("unknown format %d", c.Format)
	}
}

// encodeText writes the human-readable format: one top-level key=value
// line per scalar field, followed by one JSON-encoded individual per
// line (individuals are structurally too deep for a flat key=value line,
// but the surrounding envelope stays plain text for at-a-glance
// readability, matching the teacher's debug-dump style of favoring
// readability over a single canonical format).
func encodeText(f *os.File, snap *snapshot) error {
	w := bufio.NewWriter(f)

	fmt.Fprintf(w, "iteration=%d\n", snap.Iteration)
	fmt.Fprintf(w, "best_known=%s\n", strconv.FormatFloat(snap.BestKnown, 'g', -1, 64))
	fmt.Fprintf(w, "n_stalls=%d\n", snap.NStalls)
	fmt.Fprintf(w, "maximize=%t\n", snap.Maximize)
	fmt.Fprintf(w, "rng_state=%s\n", base64.StdEncoding.EncodeToString(snap.RNGState))
	fmt.Fprintf(w, "n_individuals=%d\n", len(snap.Individuals))

	for _, ind := range snap.Individuals {
		line, err := json.Marshal(ind)
		if err != nil {
			return err
		}

		if _, err := w.Write(line); err != nil {
			return err
		}

		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}

	return w.Flush()
}

func decodeText(f *os.File) (*snapshot, error) {
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	snap := &snapshot{}
	fields := map[string]string{}

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}

		k, v, found := strings.Cut(line, "=")
		if !found {
			break
		}

		fields[k] = v

		if len(fields) == 6 {
			break
		}
	}

	var err error

	if snap.Iteration, err = parseUint32(fields["iteration"]); err != nil {
		return nil, fmt.Errorf("text checkpoint: iteration: %w", err)
	}

	if snap.BestKnown, err = strconv.ParseFloat(fields["best_known"], 64); err != nil {
		return nil, fmt.Errorf("text checkpoint: best_known: %w", err)
	}

	if snap.NStalls, err = parseUint32(fields["n_stalls"]); err != nil {
		return nil, fmt.Errorf("text checkpoint: n_stalls: %w", err)
	}

	snap.Maximize = fields["maximize"] == "true"

	if rngState, ok := fields["rng_state"]; ok && rngState != "" {
		if snap.RNGState, err = base64.StdEncoding.DecodeString(rngState); err != nil {
			return nil, fmt.Errorf("text checkpoint: rng_state: %w", err)
		}
	}

	n, err := strconv.Atoi(fields["n_individuals"])
	if err != nil {
		return nil, fmt.Errorf("text checkpoint: n_individuals: %w", err)
	}

	for i := 0; i < n; i++ {
		if !sc.Scan() {
			return nil, fmt.Errorf("text checkpoint: expected %d individuals, got %d", n, i)
		}

		var ind individual.Individual
		if err := json.Unmarshal(sc.Bytes(), &ind); err != nil {
			return nil, fmt.Errorf("text checkpoint: individual %d: %w", i, err)
		}

		snap.Individuals = append(snap.Individuals, &ind)
	}

	return snap, sc.Err()
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}
