// Command vfat inspects FAT32 disk images: volume info, directory listings
// and file contents. It is a thin front end over the vfat engine, mounting
// the image read-only for the duration of one command.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zhi-g/vfat"
)

var (
	log = logrus.New()

	verbose    bool
	skipChecks bool
)

func openVolume(image string) (*vfat.Fs, func(), error) {
	file, err := os.Open(image)
	if err != nil {
		return nil, nil, fmt.Errorf("could not open the image: %w", err)
	}

	var volume *vfat.Fs
	if skipChecks {
		log.Warn("skipping the boot sector validation")
		volume, err = vfat.NewSkipChecks(file)
	} else {
		volume, err = vfat.New(file)
	}
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("could not mount the volume: %w", err)
	}

	log.WithFields(logrus.Fields{
		"label": volume.Label(),
		"type":  volume.FSType(),
	}).Debug("mounted volume")

	return volume, func() { file.Close() }, nil
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <image>",
		Short: "Print the label and geometry of a volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			volume, closeVolume, err := openVolume(args[0])
			if err != nil {
				return err
			}
			defer closeVolume()

			geo := volume.Geometry()
			fmt.Printf("Label:          %s\n", volume.Label())
			fmt.Printf("Type:           FAT%d\n", volume.FSType())
			fmt.Printf("FAT offset:     %d\n", geo.FATOffset)
			fmt.Printf("FAT size:       %d\n", geo.FATSize)
			fmt.Printf("Data offset:    %d\n", geo.DataOffset)
			fmt.Printf("Cluster size:   %d\n", geo.ClusterSize)
			return nil
		},
	}
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <image> [path]",
		Short: "List a directory of the volume",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/"
			if len(args) > 1 {
				path = args[1]
			}

			volume, closeVolume, err := openVolume(args[0])
			if err != nil {
				return err
			}
			defer closeVolume()

			dir, err := volume.Open(path)
			if err != nil {
				return fmt.Errorf("could not open %q: %w", path, err)
			}
			defer dir.Close()

			entries, err := dir.Readdir(-1)
			if err != nil {
				return fmt.Errorf("could not list %q: %w", path, err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, entry := range entries {
				kind := "-"
				if entry.IsDir() {
					kind = "d"
				}
				modified := ""
				if !entry.ModTime().IsZero() {
					modified = entry.ModTime().Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", kind, entry.Size(), modified, entry.Name())
			}
			return w.Flush()
		},
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <image> <path>",
		Short: "Print the attributes of one entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			volume, closeVolume, err := openVolume(args[0])
			if err != nil {
				return err
			}
			defer closeVolume()

			stat, err := volume.Stat(args[1])
			if err != nil {
				return fmt.Errorf("could not stat %q: %w", args[1], err)
			}

			fmt.Printf("Name:      %s\n", stat.Name())
			fmt.Printf("Directory: %v\n", stat.IsDir())
			fmt.Printf("Size:      %d\n", stat.Size())
			fmt.Printf("Modified:  %s\n", stat.ModTime())
			return nil
		},
	}
}

func newCatCmd() *cobra.Command {
	var (
		offset int64
		length int64
	)

	cmd := &cobra.Command{
		Use:   "cat <image> <path>",
		Short: "Write a byte range of a file to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			volume, closeVolume, err := openVolume(args[0])
			if err != nil {
				return err
			}
			defer closeVolume()

			file, err := volume.Open(args[1])
			if err != nil {
				return fmt.Errorf("could not open %q: %w", args[1], err)
			}
			defer file.Close()

			stat, err := file.Stat()
			if err != nil {
				return err
			}
			if stat.IsDir() {
				return fmt.Errorf("%q is a directory", args[1])
			}

			if length < 0 {
				length = stat.Size() - offset
			}
			if length <= 0 {
				return nil
			}

			buffer := make([]byte, length)
			n, err := file.ReadAt(buffer, offset)
			if err != nil && n == 0 {
				return fmt.Errorf("could not read %q: %w", args[1], err)
			}
			log.WithField("bytes", n).Debug("read completed")

			_, err = os.Stdout.Write(buffer[:n])
			return err
		},
	}

	cmd.Flags().Int64Var(&offset, "offset", 0, "byte offset to start reading at")
	cmd.Flags().Int64Var(&length, "length", -1, "number of bytes to read, -1 for the rest of the file")

	return cmd
}

func main() {
	root := &cobra.Command{
		Use:           "vfat",
		Short:         "Inspect FAT32 disk images",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug output")
	root.PersistentFlags().BoolVar(&skipChecks, "skip-checks", false, "skip the boot sector validation")

	root.AddCommand(newInfoCmd(), newLsCmd(), newStatCmd(), newCatCmd())

	if err := root.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
