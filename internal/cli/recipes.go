package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/furnish/internal/kernel"
	"github.com/roach88/furnish/internal/recipe"
)

// RecipeView describes one built recipe.
type RecipeView struct {
	Name      string   `json:"name"`
	Reference string   `json:"reference,omitempty"`
	KTypes    []string `json:"ktypes"`
	Kernels   []string `json:"kernels"`
}

// RecipesResult is the JSON payload of the recipes command.
type RecipesResult struct {
	Recipes []RecipeView `json:"recipes"`
}

// NewRecipesCommand creates the recipes command.
func NewRecipesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipes [dir]",
		Short: "Compile and list recipe definitions",
		Long: `Compile the CUE recipe definitions in a directory (the configured
recipes_dir by default), check them and list the recipes they define,
referenced recipes first. Nothing is resolved or fetched.

Example:
  furnish recipes ./recipes
  furnish recipes --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runRecipes(rootOpts, dir, cmd)
		},
	}

	return cmd
}

func runRecipes(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	sess, err := openSession(opts)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open session", err)
	}
	defer sess.Close()

	recipes, err := sess.loadRecipes(dir)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to load recipes", err)
	}

	views := make([]RecipeView, len(recipes))
	for i, r := range recipes {
		views[i] = recipeView(r)
	}

	if formatter.JSON() {
		return formatter.Success(RecipesResult{Recipes: views})
	}
	fmt.Fprintf(formatter.Writer, "%d recipe(s)\n", len(views))
	for _, v := range views {
		line := v.Name
		if v.Reference != "" {
			line += " -> " + v.Reference
		}
		fmt.Fprintf(formatter.Writer, "%s [%s]\n", line, strings.Join(v.KTypes, " "))
		for _, k := range v.Kernels {
			fmt.Fprintf(formatter.Writer, "  %s\n", k)
		}
	}
	return nil
}

func recipeView(r *recipe.Recipe) RecipeView {
	v := RecipeView{Name: r.Name(), KTypes: []string{}, Kernels: []string{}}
	if ref := r.Reference(); ref != nil {
		v.Reference = ref.Name()
	}
	for _, k := range r.KTypes() {
		v.KTypes = append(v.KTypes, string(k))
	}
	for _, k := range r.Kernels() {
		v.Kernels = append(v.Kernels, describeKernel(k))
	}
	return v
}

// describeKernel renders a recipe entry with its variant.
func describeKernel(k kernel.Kernel) string {
	switch k := k.(type) {
	case *kernel.File:
		return k.Name()
	case *kernel.Set:
		return fmt.Sprintf("set %q (%s)", k.Name(), k.KType())
	case *kernel.Stack:
		return fmt.Sprintf("stack %q (%d)", k.Name(), len(k.Children()))
	case *kernel.Metakernel:
		return fmt.Sprintf("meta %q (%d)", k.Name(), len(k.Children()))
	default:
		return k.Name()
	}
}
