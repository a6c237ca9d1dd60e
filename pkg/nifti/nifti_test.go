package nifti

import (
	"os"
	"path/filepath"
	"testing"

	"fmriconfounds/internal/models"
)

func TestSaveLoadMaskRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "fmriconfounds-test-*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory: %v", err)
	}
	defer os.RemoveAll(dir)

	mask := &models.Mask{
		Data: []bool{
			true, false, true, false,
			false, true, false, true,
		},
		Nx: 2,
		Ny: 2,
		Nz: 2,
		// Exact float32 values survive the header round trip.
		Affine: [16]float64{
			1.5, 0, 0, -4,
			0, 2, 0, 8,
			0, 0, 2.5, -16,
			0, 0, 0, 1,
		},
	}

	for _, name := range []string{"mask.nii", "mask.nii.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := SaveMask(mask, path); err != nil {
				t.Fatalf("save failed: %v", err)
			}

			loaded, err := LoadMask(path)
			if err != nil {
				t.Fatalf("load failed: %v", err)
			}
			if loaded.Nx != 2 || loaded.Ny != 2 || loaded.Nz != 2 {
				t.Fatalf("loaded shape = (%d, %d, %d)", loaded.Nx, loaded.Ny, loaded.Nz)
			}
			for i, v := range loaded.Data {
				if v != mask.Data[i] {
					t.Errorf("voxel %d = %v, want %v", i, v, mask.Data[i])
				}
			}
			if loaded.Affine != mask.Affine {
				t.Errorf("affine = %v, want %v", loaded.Affine, mask.Affine)
			}
		})
	}
}

func TestLoadVolumeFromSavedMask(t *testing.T) {
	dir, err := os.MkdirTemp("", "fmriconfounds-test-*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory: %v", err)
	}
	defer os.RemoveAll(dir)

	mask := &models.Mask{
		Data: []bool{true, true, false, false, true, false, false, true},
		Nx:   2,
		Ny:   2,
		Nz:   2,
	}
	path := filepath.Join(dir, "vol.nii")
	if err := SaveMask(mask, path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	vol, err := LoadVolume(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if vol.NumVolumes != 1 {
		t.Errorf("NumVolumes = %d, want 1", vol.NumVolumes)
	}
	for i, on := range mask.Data {
		want := 0.0
		if on {
			want = 1.0
		}
		if vol.Data[i] != want {
			t.Errorf("voxel %d = %g, want %g", i, vol.Data[i], want)
		}
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	dir, err := os.MkdirTemp("", "fmriconfounds-test-*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory: %v", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "bogus.nii")
	if err := os.WriteFile(path, []byte("this is not a nifti file"), 0644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if _, err := LoadVolume(path); err == nil {
		t.Fatal("expected an error for a non-NIfTI file")
	}

	if _, err := LoadVolume(filepath.Join(dir, "missing.nii")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
