package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fmriconfounds/internal/models"
	"fmriconfounds/pkg/compcor"
	"fmriconfounds/pkg/config"
	"fmriconfounds/pkg/dvars"
	"fmriconfounds/pkg/maskops"
	"fmriconfounds/pkg/nifti"
	"fmriconfounds/pkg/outliers"
)

func main() {
	// Parse command line arguments
	funcFile := flag.String("func", "", "4D functional NIfTI image (.nii or .nii.gz)")
	maskFiles := flag.String("masks", "", "Comma-separated list of mask NIfTI files")
	configPath := flag.String("config", "", "Optional YAML configuration file")
	variant := flag.String("variant", "compcor", "CompCor variant: compcor, acompcor, or tcompcor")
	numComponents := flag.Int("components", 6, "Number of noise components to extract per mask")
	varianceThreshold := flag.Float64("variance-threshold", 0, "Keep the fewest components reaching this cumulative explained-variance fraction (0 disables, overrides -components)")
	preFilter := flag.String("filter", "polynomial", "Pre-filter: polynomial, cosine, or none")
	degree := flag.Int("degree", 1, "Legendre polynomial degree for the polynomial pre-filter")
	periodCut := flag.Float64("period-cut", 128, "High-pass period cutoff in seconds for the cosine pre-filter")
	repetitionTime := flag.Float64("tr", 0, "Repetition time in seconds (0: derive from the image header)")
	skipVols := flag.Int("skip-vols", 0, "Leading volumes to exclude (-1: auto-detect non-steady-state volumes)")
	mergeMethod := flag.String("merge", "", "Mask merge method when multiple masks are given: union, intersect, or none")
	maskIndex := flag.Int("mask-index", -1, "Select a single mask by index instead of merging")
	percentile := flag.Float64("percentile", 0.98, "High-variance voxel percentile threshold for tcompcor")
	prefix := flag.String("prefix", "", "Override the output component column prefix")
	outDir := flag.String("out-dir", ".", "Directory for output files")
	savePreFilter := flag.Bool("save-pre-filter", false, "Also write the pre-filter basis TSV")
	runDVARS := flag.Bool("dvars", false, "Also compute DVARS over the first mask")
	flag.Parse()

	// Validate inputs
	if *funcFile == "" || *maskFiles == "" {
		flag.Usage()
		os.Exit(1)
	}

	// Load configuration defaults and overlay explicitly set flags
	cfgFile, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	applyConfigDefaults(cfgFile, variant, numComponents, varianceThreshold, preFilter, degree,
		periodCut, repetitionTime, skipVols, mergeMethod, maskIndex, percentile, prefix)

	fmt.Println("================================")
	fmt.Println("FMRI CONFOUND ESTIMATION: CompCor NOISE COMPONENTS AND DVARS")
	fmt.Println("================================")

	// Step 1: Load the functional image
	fmt.Println("Step 1: Loading functional image...")
	vol, err := nifti.LoadVolume(*funcFile)
	if err != nil {
		log.Fatalf("Failed to load functional image: %v", err)
	}
	fmt.Printf("Loaded %dx%dx%d volume with %d time points\n", vol.Nx, vol.Ny, vol.Nz, vol.NumVolumes)

	// Step 2: Load masks
	fmt.Println("Step 2: Loading masks...")
	var masks []*models.Mask
	for _, path := range strings.Split(*maskFiles, ",") {
		mask, err := nifti.LoadMask(strings.TrimSpace(path))
		if err != nil {
			log.Fatalf("Failed to load mask: %v", err)
		}
		masks = append(masks, mask)
	}

	// Step 3: Detect non-steady-state volumes when requested
	if *skipVols < 0 {
		fmt.Println("Step 3: Detecting non-steady-state volumes...")
		*skipVols = outliers.CountNonSteadyState(vol)
		fmt.Printf("Detected %d non-steady-state volume(s)\n", *skipVols)
	}

	// Step 4: Extract noise components
	fmt.Println("Step 4: Extracting noise components...")
	cc, err := buildCompCorConfig(*variant, *numComponents, *varianceThreshold, *preFilter, *degree,
		*periodCut, *repetitionTime, *skipVols, *percentile, *prefix, *mergeMethod, *maskIndex)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	startTime := time.Now()
	maskDir := filepath.Join(*outDir, cfgFile.Output.MaskDir)
	result, err := compcor.Extract(vol, masks, cc, maskDir)
	if err != nil {
		log.Fatalf("Component extraction failed: %v", err)
	}

	componentsPath := filepath.Join(*outDir, cfgFile.Output.ComponentsFile)
	if err := compcor.WriteComponents(componentsPath, result); err != nil {
		log.Fatalf("Failed to write components: %v", err)
	}
	fmt.Printf("Components written to: %s\n", componentsPath)

	metadataPath := filepath.Join(*outDir, cfgFile.Output.MetadataFile)
	if err := compcor.WriteVarianceExplained(metadataPath, result); err != nil {
		log.Fatalf("Failed to write component metadata: %v", err)
	}
	fmt.Printf("Component metadata written to: %s\n", metadataPath)

	if *savePreFilter || cfgFile.Output.SavePreFilter {
		basisPath := filepath.Join(*outDir, cfgFile.Output.PreFilterFile)
		if err := compcor.WriteBasis(basisPath, result); err != nil {
			log.Fatalf("Failed to write pre-filter basis: %v", err)
		}
		fmt.Printf("Pre-filter basis written to: %s\n", basisPath)
	}

	for _, path := range result.HighVarianceMaskPaths {
		fmt.Printf("Derived high-variance mask written to: %s\n", path)
	}

	fmt.Printf("\nExtraction completed in %.2f seconds\n", time.Since(startTime).Seconds())
	for i, shares := range result.VarianceExplained {
		fmt.Printf("Mask %d variance explained by retained components:", i)
		for _, s := range shares {
			fmt.Printf(" %.3f", s)
		}
		fmt.Println()
	}

	// Step 5: DVARS
	if *runDVARS {
		fmt.Println("\nStep 5: Computing DVARS...")
		opts := dvars.Options{
			RemoveZeroVariance:     cfgFile.DVARS.RemoveZeroVariance,
			IntensityNormalization: cfgFile.DVARS.IntensityNormalization,
		}
		res, err := dvars.Compute(vol, masks[0], opts)
		if err != nil {
			log.Fatalf("DVARS computation failed: %v", err)
		}

		for name, series := range map[string][]float64{
			"dvars_std.tsv":   res.Standardized,
			"dvars_nstd.tsv":  res.NonStandardized,
			"dvars_vxstd.tsv": res.VoxelwiseStd,
		} {
			path := filepath.Join(*outDir, name)
			if err := dvars.WriteSeries(path, series); err != nil {
				log.Fatalf("Failed to write DVARS series: %v", err)
			}
		}
		allPath := filepath.Join(*outDir, "dvars_all.tsv")
		if err := dvars.WriteAll(allPath, res); err != nil {
			log.Fatalf("Failed to write combined DVARS file: %v", err)
		}

		fmt.Printf("DVARS summary:\n")
		fmt.Printf("  mean standardized:          %.6f\n", res.MeanStandardized)
		fmt.Printf("  mean non-standardized:      %.6f\n", res.MeanNonStandardized)
		fmt.Printf("  mean voxelwise-standardized: %.6f\n", res.MeanVoxelwiseStd)
	}
}

// applyConfigDefaults replaces flag values still at their built-in default
// with values from the configuration file, so explicit flags win over the
// file and the file wins over the compiled defaults.
func applyConfigDefaults(cfg *config.Config, variant *string, numComponents *int,
	varianceThreshold *float64, preFilter *string, degree *int, periodCut, repetitionTime *float64,
	skipVols *int, mergeMethod *string, maskIndex *int, percentile *float64, prefix *string) {

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if !set["variant"] {
		*variant = cfg.CompCor.Variant
	}
	if !set["components"] {
		*numComponents = cfg.CompCor.NumComponents
	}
	if !set["variance-threshold"] {
		*varianceThreshold = cfg.CompCor.VarianceThreshold
	}
	if !set["filter"] {
		*preFilter = cfg.CompCor.PreFilter
	}
	if !set["degree"] {
		*degree = cfg.CompCor.Degree
	}
	if !set["period-cut"] {
		*periodCut = cfg.CompCor.PeriodCut
	}
	if !set["tr"] {
		*repetitionTime = cfg.CompCor.RepetitionTime
	}
	if !set["skip-vols"] {
		*skipVols = cfg.CompCor.IgnoreInitialVolumes
	}
	if !set["merge"] {
		*mergeMethod = cfg.CompCor.MergeMethod
	}
	if !set["mask-index"] && cfg.CompCor.MaskIndex >= 0 {
		*maskIndex = cfg.CompCor.MaskIndex
	}
	if !set["percentile"] {
		*percentile = cfg.CompCor.PercentileThreshold
	}
	if !set["prefix"] {
		*prefix = cfg.CompCor.HeaderPrefix
	}
}

// buildCompCorConfig translates CLI parameters into an extraction config.
func buildCompCorConfig(variant string, numComponents int, varianceThreshold float64,
	preFilter string, degree int, periodCut, repetitionTime float64, skipVols int,
	percentile float64, prefix, mergeMethod string, maskIndex int) (compcor.Config, error) {

	var v compcor.Variant
	switch variant {
	case "compcor":
		v = compcor.Generic
	case "acompcor":
		v = compcor.Anatomical
	case "tcompcor":
		v = compcor.Temporal
	default:
		return compcor.Config{}, fmt.Errorf("unknown variant %q", variant)
	}

	filter, err := compcor.ParseFilterType(preFilter)
	if err != nil {
		return compcor.Config{}, err
	}

	cfg := compcor.NewConfig(v)
	cfg.NumComponents = numComponents
	cfg.VarianceThreshold = varianceThreshold
	cfg.Filter = filter
	cfg.Degree = degree
	cfg.PeriodCut = periodCut
	cfg.RepetitionTime = repetitionTime
	cfg.IgnoreInitialVolumes = skipVols
	cfg.PercentileThreshold = percentile
	cfg.Prefix = prefix

	if maskIndex >= 0 {
		sel := maskops.ByIndex(maskIndex)
		cfg.MaskSelection = &sel
	} else if mergeMethod != "" {
		method, err := maskops.ParseMethod(mergeMethod)
		if err != nil {
			return compcor.Config{}, err
		}
		sel := maskops.ByMethod(method)
		cfg.MaskSelection = &sel
	}
	return cfg, nil
}
