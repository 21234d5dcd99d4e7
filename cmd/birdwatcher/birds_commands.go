package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"birdwatcher/internal/pipeline"
	"birdwatcher/internal/services"
	"birdwatcher/internal/store"
)

func newBirdsCommand(ctx *commandContext) *cobra.Command {
	birdsCmd := &cobra.Command{
		Use:   "birds",
		Short: "Browse and curate individual bird profiles",
	}
	birdsCmd.AddCommand(newBirdsListCommand(ctx))
	birdsCmd.AddCommand(newBirdsShowCommand(ctx))
	birdsCmd.AddCommand(newBirdsSpeciesCommand(ctx))
	birdsCmd.AddCommand(newBirdsMergeCommand(ctx))
	birdsCmd.AddCommand(newBirdsSetPrimaryCommand(ctx))
	birdsCmd.AddCommand(newBirdsNotesCommand(ctx))
	birdsCmd.AddCommand(newBirdsDeleteCommand(ctx))
	return birdsCmd
}

// lookupProfile accepts a numeric id or a unique identifier such as
// AMERICAN_ROBIN_001.
func lookupProfile(ctx context.Context, st *store.Store, ref string) (*store.BirdProfile, error) {
	ref = strings.TrimSpace(ref)
	var (
		profile *store.BirdProfile
		err     error
	)
	if id, parseErr := strconv.ParseInt(ref, 10, 64); parseErr == nil {
		profile, err = st.GetProfile(ctx, id)
	} else {
		profile, err = st.GetProfileByIdentifier(ctx, strings.ToUpper(ref))
	}
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, services.Wrap(services.ErrNotFound, "birds", "lookup", fmt.Sprintf("bird profile %q not found", ref), nil)
	}
	return profile, nil
}

func newBirdsListCommand(ctx *commandContext) *cobra.Command {
	var species string
	var limit int
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bird profiles, most recently seen first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				profiles, err := st.ListProfiles(cmd.Context(), store.ProfileFilter{Species: species, Limit: limit})
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, profiles)
				}
				out := cmd.OutOrStdout()
				if len(profiles) == 0 {
					fmt.Fprintln(out, "No bird profiles yet")
					return nil
				}
				rows := make([][]string, 0, len(profiles))
				for _, p := range profiles {
					rows = append(rows, []string{
						strconv.FormatInt(p.ID, 10),
						p.UniqueIdentifier,
						p.Species,
						dash(p.PrimaryGender),
						strconv.Itoa(p.TotalVisits),
						formatTime(p.FirstSeen),
						formatTime(p.LastSeen),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"ID", "Bird", "Species", "Gender", "Visits", "First seen", "Last seen"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&species, "species", "", "Only profiles of this species")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

type speciesCount struct {
	Species string `json:"species"`
	Birds   int    `json:"birds"`
}

func newBirdsSpeciesCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "species",
		Short: "Count individual birds per species",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				names, err := st.UniqueSpecies(cmd.Context())
				if err != nil {
					return err
				}
				counts := make([]speciesCount, 0, len(names))
				for _, name := range names {
					n, err := st.CountProfilesBySpecies(cmd.Context(), name)
					if err != nil {
						return err
					}
					counts = append(counts, speciesCount{Species: name, Birds: n})
				}
				if jsonOutput {
					return writeJSON(cmd, counts)
				}
				out := cmd.OutOrStdout()
				if len(counts) == 0 {
					fmt.Fprintln(out, "No bird profiles yet")
					return nil
				}
				rows := make([][]string, 0, len(counts))
				for _, c := range counts {
					rows = append(rows, []string{c.Species, strconv.Itoa(c.Birds)})
				}
				fmt.Fprint(out, renderTable([]string{"Species", "Birds"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newBirdsShowCommand(ctx *commandContext) *cobra.Command {
	var visits int
	cmd := &cobra.Command{
		Use:   "show <id|identifier>",
		Short: "Show a bird profile with its images and recent visits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				profile, err := lookupProfile(cmd.Context(), st, args[0])
				if err != nil {
					return err
				}
				images, err := st.ListRepresentativeImages(cmd.Context(), profile.ID)
				if err != nil {
					return err
				}
				detections, err := st.ListDetectionsByProfile(cmd.Context(), profile.ID, visits)
				if err != nil {
					return err
				}
				renderProfile(cmd, profile, images, detections)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&visits, "visits", 10, "Number of recent detections to show")
	return cmd
}

func renderProfile(cmd *cobra.Command, p *store.BirdProfile, images []*store.RepresentativeImage, detections []*store.Detection) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	printSection(out, p.UniqueIdentifier, colorize)
	fmt.Fprintln(out, renderStatusLine("Species", statusInfo, p.Species, colorize))
	if p.CommonName != "" {
		fmt.Fprintln(out, renderStatusLine("Common name", statusInfo, p.CommonName, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Gender", statusInfo, dash(p.PrimaryGender), colorize))
	fmt.Fprintln(out, renderStatusLine("Visits", statusInfo, strconv.Itoa(p.TotalVisits), colorize))
	fmt.Fprintln(out, renderStatusLine("Seen", statusInfo, formatTime(p.FirstSeen)+" to "+formatTime(p.LastSeen), colorize))
	fmt.Fprintln(out, renderStatusLine("Image", statusInfo, dash(p.RepresentativeImagePath), colorize))
	if p.Notes != "" {
		fmt.Fprintln(out, renderStatusLine("Notes", statusInfo, p.Notes, colorize))
	}
	fmt.Fprintln(out)

	if len(images) > 0 {
		rows := make([][]string, 0, len(images))
		for _, img := range images {
			rows = append(rows, []string{
				strconv.FormatInt(img.ID, 10),
				yesNo(img.IsPrimary),
				strconv.Itoa(img.QualityScore),
				img.ImagePath,
			})
		}
		fmt.Fprint(out, renderTable([]string{"Image", "Primary", "Quality", "Path"}, rows,
			[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft}))
		fmt.Fprintln(out)
	}

	if len(detections) == 0 {
		return
	}
	rows := make([][]string, 0, len(detections))
	for _, d := range detections {
		match := "-"
		if d.MatchConfidence != nil {
			match = fmt.Sprintf("%.0f", *d.MatchConfidence)
		}
		rows = append(rows, []string{
			strconv.FormatInt(d.ID, 10),
			strconv.FormatInt(d.VideoID, 10),
			formatTime(d.DetectedAt),
			d.Gender,
			match,
		})
	}
	fmt.Fprint(out, renderTable([]string{"Detection", "Video", "Seen", "Gender", "Match"}, rows,
		[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight}))
}

func newBirdsMergeCommand(ctx *commandContext) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "merge <source> <target>",
		Short: "Fold one bird profile into another",
		Long:  "Reassign every detection and image of <source> to <target> and delete <source>.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *pipeline.Service, st *store.Store) error {
				source, err := lookupProfile(cmd.Context(), st, args[0])
				if err != nil {
					return err
				}
				target, err := lookupProfile(cmd.Context(), st, args[1])
				if err != nil {
					return err
				}
				if force {
					err = svc.Resolver().Merge(cmd.Context(), source.ID, target.ID)
				} else {
					err = svc.Resolver().MergeChecked(cmd.Context(), source.ID, target.ID)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Merged %s into %s\n", source.UniqueIdentifier, target.UniqueIdentifier)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Merge even when the species differ")
	return cmd
}

func newBirdsSetPrimaryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-primary <profile> <image-id>",
		Short: "Choose the image shown for a bird profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			imageID, err := parseID(args[1], "image")
			if err != nil {
				return err
			}
			return ctx.withService(func(svc *pipeline.Service, st *store.Store) error {
				profile, err := lookupProfile(cmd.Context(), st, args[0])
				if err != nil {
					return err
				}
				if err := svc.Resolver().SetPrimaryImage(cmd.Context(), profile.ID, imageID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Image %d is now primary for %s\n", imageID, profile.UniqueIdentifier)
				return nil
			})
		},
	}
}

func newBirdsNotesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "notes <profile> <text>",
		Short: "Replace a bird profile's notes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				profile, err := lookupProfile(cmd.Context(), st, args[0])
				if err != nil {
					return err
				}
				if err := st.UpdateProfileNotes(cmd.Context(), profile.ID, strings.TrimSpace(args[1])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated notes for %s\n", profile.UniqueIdentifier)
				return nil
			})
		},
	}
}

func newBirdsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <profile>",
		Short: "Delete a bird profile; its detections become unmatched",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				profile, err := lookupProfile(cmd.Context(), st, args[0])
				if err != nil {
					return err
				}
				if _, err := st.DeleteProfile(cmd.Context(), profile.ID); err != nil {
					return err
				}
				imageDir := filepath.Join(ctx.configValue().Paths.BirdImagesDir, profile.UniqueIdentifier)
				if err := os.RemoveAll(imageDir); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warn: remove %s: %v\n", imageDir, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", profile.UniqueIdentifier)
				return nil
			})
		},
	}
}
