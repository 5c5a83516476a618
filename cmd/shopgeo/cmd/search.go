package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/shopgeo/internal/domain/search/request"
	"github.com/kailas-cloud/shopgeo/internal/query"
	searchuc "github.com/kailas-cloud/shopgeo/internal/usecase/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	lat    string
	lng    string
	radius float64 // meters; unset means the configured default
	count  int
	tags   []string
}

func newSearchCmd(opts *globalOptions) *cobra.Command {
	var so searchOptions

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run one product search against the dataset and print JSON",
		Long: `Run one product search against the dataset and print JSON.

Examples:
  shopgeo search --lat 59.334 --lng 18.063 --count 10
  shopgeo search --lat 59.334 --lng 18.063 --radius 500 --tags food,books`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.logger.Sync() }()

			params := request.Params{
				Lat:   so.lat,
				Lng:   so.lng,
				Tags:  so.tags,
				Limit: strconv.Itoa(so.count),
			}
			if cmd.Flags().Changed("radius") {
				params.Radius = strconv.FormatFloat(so.radius*request.MetersToIndexUnits, 'g', -1, 64)
			}
			req, err := request.Parse(params)
			if err != nil {
				return err
			}

			if err := a.loadDataset(cmd.Context()); err != nil {
				return err
			}
			svc := searchuc.New(query.New(a.dataset), nil, a.searchConfig(), nil, a.logger)
			views, err := svc.Search(cmd.Context(), &req)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			if views == nil {
				views = []searchuc.View{}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"products": views})
		},
	}

	cmd.Flags().StringVar(&so.lat, "lat", "", "Latitude of the search point (required)")
	cmd.Flags().StringVar(&so.lng, "lng", "", "Longitude of the search point (required)")
	cmd.Flags().Float64VarP(&so.radius, "radius", "r", 0, "Search radius in meters (default: search.default_radius)")
	cmd.Flags().IntVarP(&so.count, "count", "n", 10, "Maximum number of products")
	cmd.Flags().StringSliceVarP(&so.tags, "tags", "t", nil, "Only shops with any of these tags (repeatable)")

	return cmd
}
