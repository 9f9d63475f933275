package engine

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/dustin/go-humanize"
)

var ErrEmptyFile = errors.New("file has no header row")

// --- 1. FAST ZERO-ALLOC PARSERS ---

func unsafeToString(b []byte) string {
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// fastFloat parses "-123.45" -> -123.45 and reports whether b was a number.
// Exponents, "nan", "inf" and friends go through strconv. Empty fields are NaN.
func fastFloat(b []byte) (float64, bool) {
	if len(b) == 0 {
		return math.NaN(), true
	}
	neg := false
	i := 0
	if b[0] == '-' || b[0] == '+' {
		neg = b[0] == '-'
		i++
	}
	if i == len(b) {
		return 0, false
	}
	// Mantissa of at most 15 digits is exact; one division by an exact power
	// of ten rounds the same way strconv does.
	var mant int64
	digits, frac := 0, 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		mant = mant*10 + int64(b[i]-'0')
		i++
		digits++
	}
	if i < len(b) && b[i] == '.' {
		i++
		for i < len(b) && b[i] >= '0' && b[i] <= '9' {
			mant = mant*10 + int64(b[i]-'0')
			i++
			digits++
			frac++
		}
	}
	if i != len(b) || digits == 0 || digits > 15 {
		f, err := strconv.ParseFloat(unsafeToString(b), 64)
		return f, err == nil
	}
	num := float64(mant) / pow10[frac]
	if neg {
		num = -num
	}
	return num, true
}

var pow10 = [...]float64{1, 1e1, 1e2, 1e3, 1e4, 1e5, 1e6, 1e7, 1e8, 1e9, 1e10, 1e11, 1e12, 1e13, 1e14, 1e15}

// trimField drops a trailing CR and one pair of surrounding quotes.
func trimField(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte{'\r'})
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		b = b[1 : len(b)-1]
	}
	return b
}

// alignChunk moves [start, end) onto line boundaries of content.
func alignChunk(content []byte, start, end int) (int, int) {
	if start > 0 {
		if i := bytes.IndexByte(content[start:], '\n'); i != -1 {
			start += i + 1
		} else {
			start = len(content)
		}
	}
	if end < len(content) {
		if i := bytes.IndexByte(content[end:], '\n'); i != -1 {
			end += i + 1
		} else {
			end = len(content)
		}
	}
	if start > end {
		start = end
	}
	return start, end
}

// --- 2. MAIN LOADER ---

// LoadTable loads a CSV or Arrow IPC file depending on its extension.
func LoadTable(path string) (*ColumnStore, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".arrow", ".feather", ".ipc":
		return LoadArrow(path)
	default:
		return LoadColumnar(path)
	}
}

// LoadColumnar reads a headed CSV file into a ColumnStore. A column becomes
// numeric when every field parses as a number (empty fields are NaN),
// categorical otherwise.
func LoadColumnar(path string) (*ColumnStore, error) {
	start := time.Now()

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	size := len(content)

	cs, err := ParseColumnar(content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	slog.Info("table loaded",
		"path", path,
		"size", humanize.Bytes(uint64(size)),
		"rows", humanize.Comma(int64(cs.Rows())),
		"columns", len(cs.Names),
		"elapsed", time.Since(start))
	return cs, nil
}

// ParseColumnar parses CSV bytes in parallel chunks.
func ParseColumnar(content []byte) (*ColumnStore, error) {
	// A. Header
	idx := bytes.IndexByte(content, '\n')
	var headerLine []byte
	if idx == -1 {
		headerLine = content
		content = nil
	} else {
		headerLine = content[:idx]
		content = content[idx+1:]
	}
	headerLine = bytes.TrimSuffix(headerLine, []byte{'\r'})
	if len(bytes.TrimSpace(headerLine)) == 0 {
		return nil, ErrEmptyFile
	}
	sep := []byte{','}
	var names []string
	for _, f := range bytes.Split(headerLine, sep) {
		names = append(names, string(trimField(f)))
	}
	numCols := len(names)

	numWorkers := runtime.NumCPU()
	if len(content) < numWorkers*1024 {
		numWorkers = 1
	}

	// B. Count Rows (Parallel) for Exact Allocation
	chunkSize := len(content) / numWorkers
	rowCounts := make([]int, numWorkers)
	bounds := make([][2]int, numWorkers)
	var countWg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		end := (i + 1) * chunkSize
		if i == numWorkers-1 {
			end = len(content)
		}
		countWg.Add(1)
		go func(w, start, end int) {
			defer countWg.Done()
			start, end = alignChunk(content, start, end)
			bounds[w] = [2]int{start, end}
			chunk := content[start:end]
			for len(chunk) > 0 {
				line := chunk
				if j := bytes.IndexByte(chunk, '\n'); j != -1 {
					line = chunk[:j]
					chunk = chunk[j+1:]
				} else {
					chunk = nil
				}
				if len(bytes.TrimSpace(line)) > 0 {
					rowCounts[w]++
				}
			}
		}(i, i*chunkSize, end)
	}
	countWg.Wait()

	totalRows := 0
	offsets := make([]int, numWorkers)
	for i, c := range rowCounts {
		offsets[i] = totalRows
		totalRows += c
	}

	// C. Allocate numeric storage ONCE; categorical ids are per worker.
	nums := make([][]float64, numCols)
	for c := range nums {
		nums[c] = make([]float64, totalRows)
	}

	type localDicts struct {
		maps    []map[string]int32
		lists   [][]string
		ids     [][]int32
		numeric []bool
		err     error
	}
	workerDicts := make([]*localDicts, numWorkers)

	// D. Parallel Parsing: numbers only, until a column proves non-numeric.
	var parseWg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		parseWg.Add(1)
		go func(w int) {
			defer parseWg.Done()

			ld := &localDicts{
				maps:    make([]map[string]int32, numCols),
				lists:   make([][]string, numCols),
				ids:     make([][]int32, numCols),
				numeric: make([]bool, numCols),
			}
			for c := range ld.numeric {
				ld.numeric[c] = true
			}
			workerDicts[w] = ld

			writeOffset := offsets[w]
			ld.err = eachField(content[bounds[w][0]:bounds[w][1]], numCols, sep, writeOffset, func(row, c int, field []byte) {
				if !ld.numeric[c] {
					return
				}
				if f, ok := fastFloat(field); ok {
					nums[c][writeOffset+row] = f
				} else {
					ld.numeric[c] = false
				}
			})
		}(i)
	}
	parseWg.Wait()

	for _, ld := range workerDicts {
		if ld.err != nil {
			return nil, ld.err
		}
	}

	categorical := make([]bool, numCols)
	anyCategorical := false
	for c := range categorical {
		for _, ld := range workerDicts {
			categorical[c] = categorical[c] || !ld.numeric[c]
		}
		anyCategorical = anyCategorical || categorical[c]
	}

	// D2. Intern categorical columns only, re-reading each chunk once.
	if anyCategorical {
		var internWg sync.WaitGroup
		for i := 0; i < numWorkers; i++ {
			internWg.Add(1)
			go func(w int) {
				defer internWg.Done()

				ld := workerDicts[w]
				for c := range categorical {
					if categorical[c] {
						ld.maps[c] = make(map[string]int32)
						ld.ids[c] = make([]int32, rowCounts[w])
					}
				}
				// Field counts were checked by the first pass.
				_ = eachField(content[bounds[w][0]:bounds[w][1]], numCols, sep, offsets[w], func(row, c int, field []byte) {
					if !categorical[c] {
						return
					}
					s := unsafeToString(field)
					if id, ok := ld.maps[c][s]; ok {
						ld.ids[c][row] = id
						return
					}
					id := int32(len(ld.lists[c]))
					str := string(field) // Allocate string for dict
					ld.lists[c] = append(ld.lists[c], str)
					ld.maps[c][str] = id
					ld.ids[c][row] = id
				})
			}(i)
		}
		internWg.Wait()
	}

	// E. Merge Dictionaries (Parallel)
	cols := make([]Column, numCols)
	var dictWg sync.WaitGroup
	for c := 0; c < numCols; c++ {
		if !categorical[c] {
			cols[c] = NumericColumn(nums[c])
			continue
		}
		nums[c] = nil

		dictWg.Add(1)
		go func(c int) {
			defer dictWg.Done()
			gMap := make(map[string]int32)
			dict := make([]string, 0)
			globalIDs := make([]int32, totalRows)
			for w, ld := range workerDicts {
				remap := make([]int32, len(ld.lists[c]))
				for lid, s := range ld.lists[c] {
					gid, exists := gMap[s]
					if !exists {
						gid = int32(len(dict))
						dict = append(dict, s)
						gMap[s] = gid
					}
					remap[lid] = gid
				}
				dest := globalIDs[offsets[w] : offsets[w]+len(ld.ids[c])]
				for k, id := range ld.ids[c] {
					dest[k] = remap[id]
				}
			}
			cols[c] = Column{IDs: globalIDs, Dict: dict}
		}(c)
	}
	dictWg.Wait()

	return NewColumnStore(names, cols)
}

// eachField calls fn for every field of every non-blank line in chunk.
// Rows are numbered from 0 within the chunk; offset only labels errors.
// A short line stops the walk with an error.
func eachField(chunk []byte, numCols int, sep []byte, offset int, fn func(row, c int, field []byte)) error {
	row := 0
	for len(chunk) > 0 {
		line := chunk
		if j := bytes.IndexByte(chunk, '\n'); j != -1 {
			line = chunk[:j]
			chunk = chunk[j+1:]
		} else {
			chunk = nil
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		rest := line
		for c := 0; c < numCols; c++ {
			field, tail, found := bytes.Cut(rest, sep)
			if !found && c < numCols-1 {
				return fmt.Errorf("row %d: %d fields, expected %d", offset+row+1, c+1, numCols)
			}
			rest = tail
			fn(row, c, trimField(field))
		}
		row++
	}
	return nil
}
