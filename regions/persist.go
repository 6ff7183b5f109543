package regions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Tutortoise/parking-occupancy-service/geometry"
)

// ErrMalformedPersistedData is matched by every MalformedPersistedDataError.
var ErrMalformedPersistedData = errors.New("malformed persisted region data")

// MalformedPersistedDataError reports the first record that does not conform
// to the persisted format. Record is -1 when the document itself is invalid.
type MalformedPersistedDataError struct {
	Record int
	Reason string
}

func (e *MalformedPersistedDataError) Error() string {
	if e.Record < 0 {
		return fmt.Sprintf("malformed persisted region data: %s", e.Reason)
	}
	return fmt.Sprintf("malformed persisted region data: record %d: %s", e.Record, e.Reason)
}

func (e *MalformedPersistedDataError) Is(target error) bool {
	return target == ErrMalformedPersistedData
}

// Record is one entry of the persisted document:
//
//	[{"id": 0, "points": [[x, y], [x, y], [x, y], [x, y]]}, ...]
type Record struct {
	ID     int      `json:"id"`
	Points [][2]int `json:"points"`
}

// ToPersisted converts regions to records. Ids are the positions at
// serialization time.
func ToPersisted(regions []Region) []Record {
	records := make([]Record, len(regions))
	for i, r := range regions {
		points := make([][2]int, len(r.Points))
		for j, p := range r.Points {
			points[j] = [2]int{p.X, p.Y}
		}
		records[i] = Record{ID: i, Points: points}
	}
	return records
}

type rawRecord struct {
	ID     json.RawMessage   `json:"id"`
	Points []json.RawMessage `json:"points"`
}

// FromPersisted parses a persisted document. Region ids are re-assigned by
// position; the stored ids only need to be integers. Nothing is returned
// unless every record is valid.
func FromPersisted(data []byte) ([]Region, error) {
	var raw []rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MalformedPersistedDataError{Record: -1, Reason: err.Error()}
	}

	out := make([]Region, 0, len(raw))
	for i, rec := range raw {
		if len(rec.ID) == 0 {
			return nil, &MalformedPersistedDataError{Record: i, Reason: "missing id"}
		}
		if _, err := parseInt(rec.ID); err != nil {
			return nil, &MalformedPersistedDataError{Record: i, Reason: "id: " + err.Error()}
		}
		if len(rec.Points) != PointsPerRegion {
			return nil, &MalformedPersistedDataError{
				Record: i,
				Reason: fmt.Sprintf("expected %d points, got %d", PointsPerRegion, len(rec.Points)),
			}
		}

		region := Region{ID: i}
		for j, rawPoint := range rec.Points {
			p, err := parsePoint(rawPoint)
			if err != nil {
				return nil, &MalformedPersistedDataError{Record: i, Reason: fmt.Sprintf("point %d: %v", j, err)}
			}
			region.Points[j] = p
		}
		out = append(out, region)
	}
	return out, nil
}

func parsePoint(data json.RawMessage) (geometry.Point, error) {
	var coords []json.RawMessage
	if err := json.Unmarshal(data, &coords); err != nil {
		return geometry.Point{}, errors.New("not a [x, y] pair")
	}
	if len(coords) != 2 {
		return geometry.Point{}, fmt.Errorf("expected 2 coordinates, got %d", len(coords))
	}

	x, err := parseInt(coords[0])
	if err != nil {
		return geometry.Point{}, err
	}
	y, err := parseInt(coords[1])
	if err != nil {
		return geometry.Point{}, err
	}
	return geometry.Point{X: x, Y: y}, nil
}

// parseInt accepts JSON numbers with an integral value (1 and 1.0 alike).
// Quoted strings fail ParseFloat.
func parseInt(data json.RawMessage) (int, error) {
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return 0, fmt.Errorf("%s is not a number", string(data))
	}
	n, ok := geometry.IntCoordinate(v)
	if !ok {
		return 0, fmt.Errorf("%s is not an integer in range", string(data))
	}
	return n, nil
}

// Encode writes regions in persisted form.
func Encode(w io.Writer, regions []Region) error {
	data, err := json.Marshal(ToPersisted(regions))
	if err != nil {
		return fmt.Errorf("encode regions: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// Decode reads a persisted document from r.
func Decode(r io.Reader) ([]Region, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read regions: %w", err)
	}
	return FromPersisted(data)
}

// SaveFile writes regions to path through a temporary file in the same
// directory, so readers never observe a half-written document.
func SaveFile(path string, regions []Region) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".regions-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := Encode(tmp, regions); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	// CreateTemp uses 0600; the document is meant to be shared.
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename regions file: %w", err)
	}
	return nil
}

// LoadFile reads and parses the persisted document at path.
func LoadFile(path string) ([]Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open regions file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// RemoveFile deletes the persisted document. A missing file is not an error.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove regions file: %w", err)
	}
	return nil
}
