package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"lanxfer/internal/client"
	"lanxfer/internal/store"
)

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <server-url> <file>...",
		Short: "Upload files to a running lanxfer",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.New(args[0])
			if err != nil {
				return err
			}
			var failed int
			for _, path := range args[1:] {
				entry, err := sendFile(cmd, c, path)
				if err != nil {
					failed++
					fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("✗ "+path+": "+err.Error()))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s) %s\n",
					okStyle.Render("✓"), entry.Name, humanize.IBytes(uint64(entry.Size)), mutedStyle.Render(entry.Digest[:min(12, len(entry.Digest))]))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", failed, len(args)-1)
			}
			return nil
		},
	}
}

func sendFile(cmd *cobra.Command, c *client.Client, path string) (store.FileEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return store.FileEntry{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return store.FileEntry{}, err
	}
	if !st.Mode().IsRegular() {
		return store.FileEntry{}, errors.New("not a regular file")
	}
	return c.Upload(cmd.Context(), filepath.Base(path), f)
}

func newFetchCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "fetch <server-url> <name>",
		Short: "Download a file from a running lanxfer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.New(args[0])
			if err != nil {
				return err
			}
			name := args[1]
			dst := output
			if dst == "" {
				dst = filepath.Base(name)
			}

			f, err := os.Create(dst)
			if err != nil {
				return err
			}
			n, err := c.Download(cmd.Context(), name, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(dst)
				if errors.Is(err, client.ErrNotFound) {
					return fmt.Errorf("%s: no such file on %s", name, c.BaseURL())
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s (%s)\n", okStyle.Render("✓"), name, dst, humanize.IBytes(uint64(n)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this path instead of ./<name>")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ls <server-url>",
		Aliases: []string{"list"},
		Short:   "List the files on a running lanxfer",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.New(args[0])
			if err != nil {
				return err
			}
			listing, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(listing.Files) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("no files"))
				return nil
			}

			t := table.New().
				Border(tableBorder).
				BorderStyle(borderStyle).
				Headers("NAME", "SIZE", "MODIFIED").
				StyleFunc(func(row, col int) lipgloss.Style {
					if row == 0 {
						return headerStyle
					}
					if col == 1 {
						return cellStyle.Align(lipgloss.Right)
					}
					return cellStyle
				})
			var total int64
			for _, f := range listing.Files {
				total += f.Size
				t.Row(f.Name, humanize.IBytes(uint64(f.Size)), humanize.Time(f.ModTime))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render(
				strconv.Itoa(len(listing.Files))+" files, "+humanize.IBytes(uint64(total))))
			return nil
		},
	}
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <server-url> <name>",
		Short: "Delete a file on a running lanxfer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.New(args[0])
			if err != nil {
				return err
			}
			if err := c.Delete(cmd.Context(), args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s deleted %s\n", okStyle.Render("✓"), args[1])
			return nil
		},
	}
}
