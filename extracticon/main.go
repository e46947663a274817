package main

import (
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/go-errors/errors"
	"github.com/spf13/cobra"
	xdraw "golang.org/x/image/draw"

	"github.com/andrewstucki/icontools"
)

const helpString = `Extract the icons of a file or of every file in a directory.

Prints a JSON report per file. With --output every icon group found in a PE
file is written as <sha256>_<group>.ico, and with --png as a PNG as well.`

type file struct {
	Name string `json:"name"`
	*icontools.Info
}

func newCommand() *cobra.Command {
	var (
		configPath string
		flags      = DefaultConfig()
	)
	cmd := &cobra.Command{
		Use:           "extracticon [flags] PATH",
		Short:         "Extract icons from PE files",
		Long:          helpString,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := DefaultConfig()
			if configPath != "" {
				loaded, err := LoadConfig(configPath)
				if err != nil {
					return err
				}
				config = loaded
			}
			// explicit flags win over the config file
			set := cmd.Flags().Changed
			if set("output") {
				config.Output = flags.Output
			}
			if set("png") {
				config.PNG = flags.PNG
			}
			if set("size") {
				config.Size = flags.Size
			}
			if set("workers") {
				config.Workers = flags.Workers
			}
			if err := config.Validate(); err != nil {
				return err
			}

			e := &extractor{config: config, stderr: cmd.ErrOrStderr()}
			files, err := e.extract(args[0])
			if err != nil {
				return err
			}
			data, err := json.Marshal(files)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVarP(&flags.Output, "output", "o", "", "directory to write icons to")
	cmd.Flags().BoolVar(&flags.PNG, "png", false, "also write icons as PNG")
	cmd.Flags().IntVar(&flags.Size, "size", 0, "scale PNG icons to size x size")
	cmd.Flags().IntVarP(&flags.Workers, "workers", "w", flags.Workers, "number of files processed in parallel")
	return cmd
}

type extractor struct {
	config *Config
	stderr io.Writer
	mutex  sync.Mutex
}

// logf reports a per file failure without stopping the run.
func (e *extractor) logf(format string, args ...interface{}) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	fmt.Fprintf(e.stderr, format, args...)
}

func (e *extractor) extract(path string) ([]file, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Errorf("file '%s' not found", path)
		}
		return nil, err
	}
	defer f.Close()

	fileinfo, err := f.Stat()
	if err != nil {
		return nil, err
	}

	if e.config.Output != "" {
		if err := os.MkdirAll(e.config.Output, 0755); err != nil {
			return nil, err
		}
	}

	if fileinfo.IsDir() {
		return e.extractDirectory(f.Name())
	}
	sample, err := e.extractFile(f, fileinfo.Size())
	if err != nil {
		return nil, err
	}
	return []file{sample}, nil
}

func (e *extractor) extractDirectory(root string) ([]file, error) {
	var mutex sync.Mutex
	files := []file{}

	pool := newPool(e.config.Workers, func(r interface{}) {
		e.logf("Extraction panicked: %v\n", r)
	})
	defer pool.Release()
	if err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		isSymlink := info.Mode()&os.ModeSymlink > 0
		isEmpty := info.Size() == 0
		if !info.IsDir() && !isSymlink && !isEmpty {
			pool.Enqueue(func() {
				f, err := os.Open(path)
				if err != nil {
					e.logf("Unable to read '%s': %v\n", path, err)
					return
				}
				defer f.Close()
				sample, err := e.extractFile(f, info.Size())
				if err != nil {
					e.logf("Unable to extract '%s': %v\n", path, err)
					return
				}
				mutex.Lock()
				files = append(files, sample)
				mutex.Unlock()
			})
		}
		return nil
	}); err != nil {
		return nil, err
	}
	pool.Wait()

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})
	return files, nil
}

func (e *extractor) extractFile(f *os.File, size int64) (file, error) {
	info, err := icontools.Parse(f, int(size))
	if err != nil {
		return file{}, err
	}
	if e.config.Output != "" {
		e.writeIcons(f.Name(), info)
	}
	return file{Info: info, Name: f.Name()}, nil
}

// writeIcons writes every non empty icon group of info. Failures are
// reported per group.
func (e *extractor) writeIcons(name string, info *icontools.Info) {
	for _, group := range info.Icons {
		if len(group.Entries) == 0 {
			continue
		}
		base := filepath.Join(e.config.Output, fmt.Sprintf("%s_%d", info.SHA256, group.Index))
		if err := ioutil.WriteFile(base+".ico", group.ICO(), 0644); err != nil {
			e.logf("Unable to write icon %d of '%s': %v\n", group.Index, name, err)
			continue
		}
		if !e.config.PNG {
			continue
		}
		img, err := group.Image()
		if err != nil {
			e.logf("Unable to decode icon %d of '%s': %v\n", group.Index, name, err)
			continue
		}
		if e.config.Size > 0 {
			img = scaleImage(img, e.config.Size)
		}
		if err := writePNG(base+".png", img); err != nil {
			e.logf("Unable to write icon %d of '%s': %v\n", group.Index, name, err)
		}
	}
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// scaleImage fits src into a size x size canvas, keeping its aspect ratio
// and centering it.
func scaleImage(src image.Image, size int) *image.NRGBA {
	srcBounds := src.Bounds()
	srcW := srcBounds.Dx()
	srcH := srcBounds.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	if srcW == 0 || srcH == 0 {
		return dst
	}
	scale := math.Min(float64(size)/float64(srcW), float64(size)/float64(srcH))
	newW := int(math.Round(float64(srcW) * scale))
	newH := int(math.Round(float64(srcH) * scale))

	offX := (size - newW) / 2
	offY := (size - newH) / 2
	dr := image.Rect(offX, offY, offX+newW, offY+newH)
	xdraw.CatmullRom.Scale(dst, dr, src, srcBounds, xdraw.Over, nil)
	return dst
}

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
