package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

//go:embed floppy.toml
var defaultConfigData []byte

// Global state variables for the selected drive
var (
	DriveName string
	Cyls      int
	Heads     int
	RPM       int
	MaxKBps   int
	Images    []string
	ImageMap  map[string]string // image name -> filename mapping

	// Selected drive's full option set, including the flux-engine/wire
	// behaviour fields beyond the bare geometry above.
	Options Drive
)

// Config represents the entire TOML configuration structure
type Config struct {
	Default string  `toml:"default"`
	Drive   []Drive `toml:"drive"`
	Image   []Image `toml:"image"`
}

// Drive represents a floppy drive configuration
type Drive struct {
	Name    string   `toml:"name"`
	Cyls    int      `toml:"cyls"`
	Heads   int      `toml:"heads"`
	RPM     int      `toml:"rpm"`
	MaxKBps int      `toml:"maxkbps"`
	Images  []string `toml:"images"`

	// Interface/host/pin-mux and flux-engine behaviour options. A missing
	// key in the TOML file decodes to the Go zero value, which is chosen
	// below to match the firmware's own default for each field.
	Interface              string `toml:"interface"`               // shugart, ibmpc, ibmpc-hdout, jppc, jppc-hdout, amiga
	Host                   string `toml:"host"`                    // target host profile for gap sizing etc
	Pin02                  string `toml:"pin02"`                   // auto, high, low, rdy, dens, chg (optionally "not-" prefixed)
	Pin34                  string `toml:"pin34"`
	WriteProtect           bool   `toml:"write_protect"`
	MaxCyl                 int    `toml:"max_cyl"`
	SideSelectGlitchFilter bool   `toml:"side_select_glitch_filter"`
	TrackChange            string `toml:"track_change"` // instant, realtime
	WriteDrain             string `toml:"write_drain"`  // instant, realtime, eot
	IndexSuppression       bool   `toml:"index_suppression"`
	HeadSettleMS           int    `toml:"head_settle_ms"`
	MotorDelayMS           int    `toml:"motor_delay_ms"`
	DAReportVersion        bool   `toml:"da_report_version"`
}

// applyDefaults fills in the firmware's documented defaults for any field
// left at its TOML zero value.
func (d *Drive) applyDefaults() {
	if d.Interface == "" {
		d.Interface = "shugart"
	}
	if d.Pin02 == "" {
		d.Pin02 = "auto"
	}
	if d.Pin34 == "" {
		d.Pin34 = "auto"
	}
	if d.TrackChange == "" {
		d.TrackChange = "realtime"
	}
	if d.WriteDrain == "" {
		d.WriteDrain = "realtime"
	}
	if d.HeadSettleMS == 0 {
		d.HeadSettleMS = 15
	}
	if d.MotorDelayMS == 0 {
		d.MotorDelayMS = 750
	}
	if d.MaxCyl == 0 {
		d.MaxCyl = d.Cyls - 1
	}
}

// Image represents a built-in image configuration
type Image struct {
	Name string `toml:"name"`
	File string `toml:"file"`
}

// configPath determines the config file path based on the operating system
func configPath() (string, error) {
	var configDir string
	var err error

	switch runtime.GOOS {
	case "windows":
		// Use AppData directory for Windows
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user config directory: %w", err)
		}
		// Create floppy subdirectory path
		configDir = filepath.Join(configDir, "floppy")
	default:
		// Linux/macOS: use home directory
		configDir, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user home directory: %w", err)
		}
	}

	return filepath.Join(configDir, ".floppy"), nil
}

// Initialize loads and validates the configuration file.
// If the config file doesn't exist, it creates it from the embedded default.
func Initialize() error {
	// 1. Determine config file path
	configPath, err := configPath()
	if err != nil {
		return err
	}

	// 2. Check if config file exists, create from embedded default if not
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Create parent directory if needed (for Windows)
		configDir := filepath.Dir(configPath)
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
		}

		// Write embedded default config to file
		if err := os.WriteFile(configPath, defaultConfigData, 0644); err != nil {
			return fmt.Errorf("failed to create default config file at %s: %w", configPath, err)
		}
	}

	// 4. Parse TOML file
	var conf Config
	if _, err := toml.DecodeFile(configPath, &conf); err != nil {
		return fmt.Errorf("failed to parse TOML config at %s: %w", configPath, err)
	}

	// 5. Find and validate `default` key
	if conf.Default == "" {
		return errors.New("`default` key is missing or empty in config")
	}

	// 6. Search drive array for matching name
	var foundDrive *Drive
	for i := range conf.Drive {
		if conf.Drive[i].Name == conf.Default {
			foundDrive = &conf.Drive[i]
			break
		}
	}

	if foundDrive == nil {
		return fmt.Errorf("default drive %q not found in drive array", conf.Default)
	}
	foundDrive.applyDefaults()

	// 7. Validate drive fields (positive integers, non-empty images list)
	if foundDrive.Cyls <= 0 {
		return fmt.Errorf("drive %q has invalid cyls: %d (must be positive)", conf.Default, foundDrive.Cyls)
	}
	if foundDrive.Heads <= 0 {
		return fmt.Errorf("drive %q has invalid heads: %d (must be positive)", conf.Default, foundDrive.Heads)
	}
	if foundDrive.RPM <= 0 {
		return fmt.Errorf("drive %q has invalid rpm: %d (must be positive)", conf.Default, foundDrive.RPM)
	}
	if foundDrive.MaxKBps <= 0 {
		return fmt.Errorf("drive %q has invalid maxkbps: %d (must be positive)", conf.Default, foundDrive.MaxKBps)
	}
	if len(foundDrive.Images) == 0 {
		return fmt.Errorf("drive %q has no images listed", conf.Default)
	}

	// 8. Store drive properties in global variables
        DriveName = conf.Default
	Cyls = foundDrive.Cyls
	Heads = foundDrive.Heads
	RPM = foundDrive.RPM
	MaxKBps = foundDrive.MaxKBps
	Images = make([]string, len(foundDrive.Images))
	copy(Images, foundDrive.Images)
	Options = *foundDrive

	// 9. Verify each item in images array exists in image array
	// and build ImageMap for looking up filenames by image name
	imageMap := make(map[string]bool)
	ImageMap = make(map[string]string)
	for _, img := range conf.Image {
		imageMap[img.Name] = true
		ImageMap[img.Name] = img.File
	}

	for _, imgName := range foundDrive.Images {
		if !imageMap[imgName] {
			return fmt.Errorf("image %q listed under drive %q not found in image array", imgName, conf.Default)
		}
	}

	return nil
}

// SaveConfig writes conf back to its TOML file. Top-level keys that the
// parsed struct doesn't know about (or entries within a drive/image table
// beyond the recognized fields) are preserved by round-tripping through a
// generic map and overlaying only the fields the Config struct actually
// decoded, rather than re-encoding the typed struct directly.
func SaveConfig(path string, conf *Config) error {
	var existing map[string]interface{}
	if raw, err := os.ReadFile(path); err == nil {
		if _, err := toml.Decode(string(raw), &existing); err != nil {
			return fmt.Errorf("failed to parse existing config for merge: %w", err)
		}
	} else {
		existing = make(map[string]interface{})
	}

	existing["default"] = conf.Default

	drives := make([]map[string]interface{}, len(conf.Drive))
	for i, d := range conf.Drive {
		drives[i] = driveToMap(existing, i, d)
	}
	existing["drive"] = drives

	images := make([]map[string]interface{}, len(conf.Image))
	for i, img := range conf.Image {
		images[i] = map[string]interface{}{"name": img.Name, "file": img.File}
	}
	existing["image"] = images

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file %s: %w", path, err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(existing); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// driveToMap starts from whatever map already exists at drive[idx] in the
// previously-loaded document (preserving any fields this version of Config
// doesn't know about) and overlays the fields owned by Drive.
func driveToMap(existing map[string]interface{}, idx int, d Drive) map[string]interface{} {
	var base map[string]interface{}
	if drivesRaw, ok := existing["drive"].([]map[string]interface{}); ok && idx < len(drivesRaw) {
		base = drivesRaw[idx]
	} else {
		base = make(map[string]interface{})
	}

	base["name"] = d.Name
	base["cyls"] = d.Cyls
	base["heads"] = d.Heads
	base["rpm"] = d.RPM
	base["maxkbps"] = d.MaxKBps
	base["images"] = d.Images
	base["interface"] = d.Interface
	base["host"] = d.Host
	base["pin02"] = d.Pin02
	base["pin34"] = d.Pin34
	base["write_protect"] = d.WriteProtect
	base["max_cyl"] = d.MaxCyl
	base["side_select_glitch_filter"] = d.SideSelectGlitchFilter
	base["track_change"] = d.TrackChange
	base["write_drain"] = d.WriteDrain
	base["index_suppression"] = d.IndexSuppression
	base["head_settle_ms"] = d.HeadSettleMS
	base["motor_delay_ms"] = d.MotorDelayMS
	base["da_report_version"] = d.DAReportVersion
	return base
}

// GetImageFilename returns the filename for a given image name.
// Returns an error if the image name is not found in the configuration.
func GetImageFilename(imageName string) (string, error) {
	filename, ok := ImageMap[imageName]
	if !ok {
		return "", fmt.Errorf("image %q not found in configuration", imageName)
	}
	return filename, nil
}
