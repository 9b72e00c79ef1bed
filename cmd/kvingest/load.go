package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/kvingest"
	"github.com/hupe1980/kvingest/bulk"
	"github.com/hupe1980/kvingest/codec"
	"github.com/hupe1980/kvingest/merge"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Build bulk-load files from text input",
	Long: `Build bulk-load files from whitespace separated text input.

Input formats per kind, one record per line:

  set      KEY VALUE...             adds VALUEs to the set at KEY
  blob     KEY VALUE                stores the rest of the line at KEY
  blobmap  KEY SUBKEY [VALUE]       puts VALUE at SUBKEY, deletes without VALUE
  index    KEY VERSION [VALUE]      highest VERSION wins, deletes without VALUE
  log      put|merge KEY VALUE...   set updates in arrival order; merge
                                    removes VALUEs written as -VALUE
           delete KEY

Empty lines and lines starting with # are ignored.`,
	PreRunE: BindCommandFlags,
	RunE:    runLoad,
}

func init() {
	key := "kind"
	loadCmd.Flags().String(key, "set", WrapString("input kind (set, blob, blobmap, index, log)"))
	key = "input"
	loadCmd.Flags().String(key, "-", WrapString("input file, - reads stdin"))
	key = "out"
	loadCmd.Flags().String(key, "", WrapString("output directory of the bulk-load files"))
	key = "operator"
	loadCmd.Flags().String(key, "", WrapString("merge operator for blob and index input, defaults to the kind's operator"))
	key = "capacity"
	loadCmd.Flags().Int(key, 1<<20, WrapString("number of records the buffer holds"))
	key = "data-capacity"
	loadCmd.Flags().Int(key, 64<<20, WrapString("value bytes of blob and blobmap buffers"))
	key = "target-file-size"
	loadCmd.Flags().Int64(key, 64<<20, WrapString("expected size of one bulk-load file in bytes"))
	key = "compression-ratio"
	loadCmd.Flags().Float64(key, 1, WrapString("expected ratio of record bytes to file size"))
	key = "assume-empty"
	loadCmd.Flags().Bool(key, false, WrapString("the target store is empty, emit full values instead of merge operands"))
	key = "sst-compression"
	loadCmd.Flags().String(key, "snappy", WrapString("sstable block compression (none, snappy)"))
	key = "publish"
	loadCmd.Flags().Bool(key, false, WrapString("publish the files after building"))
	SetupStoreFlags(loadCmd)

	_ = loadCmd.MarkFlagRequired("out")
}

func runLoad(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	kind := viper.GetString("kind")

	operator := viper.GetString("operator")
	if operator == "" {
		var err error
		if operator, err = defaultOperator(kind); err != nil {
			return err
		}
	}

	opts, err := GetLoaderOptions()
	if err != nil {
		return err
	}
	opts = append(opts,
		kvingest.WithTargetFileSize(viper.GetInt64("target-file-size")),
		kvingest.WithCompressionRatio(viper.GetFloat64("compression-ratio")),
		kvingest.WithAssumeEmpty(viper.GetBool("assume-empty")),
		kvingest.WithSSTCompression(viper.GetString("sst-compression"), 0),
	)
	if viper.GetBool("publish") {
		storeOpts, err := GetStoreOptions(ctx)
		if err != nil {
			return err
		}
		opts = append(opts, storeOpts...)
	}

	in, err := openInput(viper.GetString("input"))
	if err != nil {
		return err
	}
	defer in.Close()

	loader, err := kvingest.New(viper.GetString("out"), operator, opts...)
	if err != nil {
		return err
	}
	defer loader.Close()

	files, err := loadInput(ctx, loader, kind, in, viper.GetInt("capacity"), viper.GetInt("data-capacity"))
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d entries\t%d bytes\n", f.Path, f.Entries(), f.Size)
	}

	if viper.GetBool("publish") {
		m, err := loader.Publish(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published manifest %d with %d files\n", m.ID, len(m.Files))
	}
	return nil
}

func defaultOperator(kind string) (string, error) {
	switch kind {
	case "set", "log":
		return merge.SetOperatorName, nil
	case "blob", "blobmap", "index":
		return merge.BlobMapOperatorName, nil
	default:
		return "", fmt.Errorf("invalid kind %s", kind)
	}
}

func openInput(name string) (io.ReadCloser, error) {
	if name == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(name)
}

// loadInput parses r as input of kind into a buffer of l and builds it.
func loadInput(ctx context.Context, l *kvingest.Loader, kind string, r io.Reader, capacity, dataCapacity int) ([]bulk.FileMeta, error) {
	var (
		b     kvingest.Builder
		apply func(fields []string, line string) error
	)

	switch kind {
	case "set":
		buf, err := l.NewSetBuffer(capacity)
		if err != nil {
			return nil, err
		}
		defer buf.Close()
		b = buf
		apply = func(fields []string, _ string) error {
			key, vals, err := parseKeyValues(fields)
			if err != nil {
				return err
			}
			for _, v := range vals {
				if err := buf.Add(key, v); err != nil {
					return err
				}
			}
			return nil
		}

	case "blob":
		buf, err := l.NewBlobBuffer(capacity, dataCapacity)
		if err != nil {
			return nil, err
		}
		defer buf.Close()
		b = buf
		apply = func(fields []string, line string) error {
			key, err := parseUint(fields[0], 64)
			if err != nil {
				return err
			}
			_, value, _ := strings.Cut(strings.TrimSpace(line), fields[0])
			return buf.Put(key, []byte(strings.TrimSpace(value)))
		}

	case "blobmap":
		buf, err := l.NewBlobMapBuffer(capacity, dataCapacity)
		if err != nil {
			return nil, err
		}
		defer buf.Close()
		b = buf
		apply = func(fields []string, _ string) error {
			if len(fields) < 2 || len(fields) > 3 {
				return fmt.Errorf("want KEY SUBKEY [VALUE], got %d fields", len(fields))
			}
			key, err := parseUint(fields[0], 64)
			if err != nil {
				return err
			}
			subkey, err := parseUint(fields[1], 64)
			if err != nil {
				return err
			}
			if len(fields) == 2 {
				return buf.Delete(key, subkey)
			}
			return buf.Put(key, subkey, []byte(fields[2]))
		}

	case "index":
		ix, err := l.NewIndex(capacity)
		if err != nil {
			return nil, err
		}
		defer ix.Close()
		b = ix
		apply = func(fields []string, _ string) error {
			if len(fields) < 2 || len(fields) > 3 {
				return fmt.Errorf("want KEY VERSION [VALUE], got %d fields", len(fields))
			}
			key, err := parseUint(fields[0], 64)
			if err != nil {
				return err
			}
			version, err := parseUint(fields[1], 32)
			if err != nil {
				return err
			}
			if len(fields) == 2 {
				_, err = ix.Delete(key, uint32(version))
				return err
			}
			_, err = ix.Put(key, uint32(version), []byte(fields[2]))
			return err
		}

	case "log":
		ul := l.NewUpdateLog()
		defer ul.Release()
		apply = func(fields []string, _ string) error {
			return applyLogLine(ul, fields)
		}
		if err := scanLines(r, apply); err != nil {
			return nil, err
		}
		return l.FlushUpdateLog(ctx, ul)

	default:
		return nil, fmt.Errorf("invalid kind %s", kind)
	}

	if err := scanLines(r, apply); err != nil {
		return nil, err
	}
	return l.Build(ctx, b)
}

type logAppender interface {
	Put(key, value []byte) error
	Merge(key, operand []byte) error
	Delete(key []byte) error
}

func applyLogLine(w logAppender, fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("want put|merge|delete KEY [VALUE...]")
	}
	key, err := parseUint(fields[1], 64)
	if err != nil {
		return err
	}

	// Values prefixed with "-" are removed from the set.
	add, del := roaring64.New(), roaring64.New()
	for _, f := range fields[2:] {
		target := add
		if rest, ok := strings.CutPrefix(f, "-"); ok {
			target, f = del, rest
		}
		v, err := parseUint(f, 64)
		if err != nil {
			return err
		}
		target.Add(v)
	}

	switch fields[0] {
	case "put":
		if !del.IsEmpty() {
			return fmt.Errorf("put takes no removals")
		}
		return w.Put(codec.EncodeKey(key), merge.EncodeBitmap(add))
	case "merge":
		return w.Merge(codec.EncodeKey(key), merge.DeltaFromBitmaps(add, del).Encode())
	case "delete":
		if !add.IsEmpty() || !del.IsEmpty() {
			return fmt.Errorf("delete takes no values")
		}
		return w.Delete(codec.EncodeKey(key))
	default:
		return fmt.Errorf("invalid operation %s", fields[0])
	}
}

func scanLines(r io.Reader, apply func(fields []string, line string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 16<<20)
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if err := apply(fields, line); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
	}
	return sc.Err()
}

func parseKeyValues(fields []string) (uint64, []uint64, error) {
	key, err := parseUint(fields[0], 64)
	if err != nil {
		return 0, nil, err
	}
	vals := make([]uint64, 0, len(fields)-1)
	for _, f := range fields[1:] {
		v, err := parseUint(f, 64)
		if err != nil {
			return 0, nil, err
		}
		vals = append(vals, v)
	}
	return key, vals, nil
}

func parseUint(s string, bits int) (uint64, error) {
	return strconv.ParseUint(s, 0, bits)
}
