// Package topology loads the testbed description: the access point, the
// devices under test and the band plans. The file is the single source of
// truth for a lab; everything else is derived from it.
package topology

import (
	"os"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/wifibench/wifibench/pkg/device"
	"github.com/wifibench/wifibench/pkg/executor"
	"github.com/wifibench/wifibench/pkg/matrix"
	"github.com/wifibench/wifibench/pkg/utils/random"
)

// Default band plans, used when a band omits standards or channels.
var (
	defaultStandards2G = []string{"11b", "11g", "11n", "11ax"}
	defaultStandards5G = []string{"11a", "11n", "11ac", "11ax"}
	defaultChannels2G  = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}
	defaultChannels5G  = []int{36, 40, 44, 48, 149, 153, 157, 161, 165}
)

const defaultSSHPort = 22

// Host is one SSH endpoint in the testbed.
type Host struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// AccessPoint describes the OpenWrt router and its radios.
type AccessPoint struct {
	Host   `yaml:",inline"`
	Radios map[string]string `yaml:"radios"`
}

// Device describes one device under test.
type Device struct {
	Host  `yaml:",inline"`
	Name  string `yaml:"name"`
	Agent string `yaml:"agent"`
	// ProbePort may be pinned in the file; zero means assign from the pool.
	ProbePort int `yaml:"probe_port"`
	// Product is the hardware name used when initializing the on-device
	// report; defaults to Name.
	Product string `yaml:"product"`
}

// BandPlan describes the network and the cells tested on one band.
type BandPlan struct {
	Name       string   `yaml:"name"`
	SSID       string   `yaml:"ssid"`
	Password   string   `yaml:"password"`
	Encryption string   `yaml:"encryption"`
	Standards  []string `yaml:"standards"`
	Channels   []int    `yaml:"channels"`
}

// Topology is the parsed testbed description.
type Topology struct {
	AccessPoint AccessPoint `yaml:"access_point"`
	Devices     []Device    `yaml:"devices"`
	Bands       []BandPlan  `yaml:"bands"`
}

// Load reads and validates a testbed file, filling in band-plan defaults
// and drawing probe ports for devices that did not pin one.
func Load(path string) (*Topology, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading topology file %q failed", path)
	}

	topology := &Topology{}
	if err := yaml.UnmarshalStrict(raw, topology); err != nil {
		return nil, errors.Wrapf(err, "parsing topology file %q failed", path)
	}

	topology.applyDefaults()
	if err := topology.validate(); err != nil {
		return nil, errors.Wrapf(err, "topology file %q is invalid", path)
	}
	return topology, nil
}

func (t *Topology) applyDefaults() {
	if t.AccessPoint.Port == 0 {
		t.AccessPoint.Port = defaultSSHPort
	}
	for i := range t.Devices {
		if t.Devices[i].Port == 0 {
			t.Devices[i].Port = defaultSSHPort
		}
		if t.Devices[i].Product == "" {
			t.Devices[i].Product = t.Devices[i].Name
		}
	}
	for i := range t.Bands {
		band := &t.Bands[i]
		if band.Encryption == "" {
			band.Encryption = "psk2"
		}
		if len(band.Standards) == 0 {
			if band.Name == "5G" {
				band.Standards = defaultStandards5G
			} else {
				band.Standards = defaultStandards2G
			}
		}
		if len(band.Channels) == 0 {
			if band.Name == "5G" {
				band.Channels = defaultChannels5G
			} else {
				band.Channels = defaultChannels2G
			}
		}
	}

	var unassigned []int
	for i, dut := range t.Devices {
		if dut.ProbePort == 0 {
			unassigned = append(unassigned, i)
		}
	}
	for i, port := range random.Ports(len(unassigned)) {
		t.Devices[unassigned[i]].ProbePort = port
	}
}

func (t *Topology) validate() error {
	if t.AccessPoint.Host.Host == "" {
		return errors.New("access point host is missing")
	}
	if len(t.Devices) == 0 {
		return errors.New("no devices defined")
	}
	if len(t.Bands) == 0 {
		return errors.New("no bands defined")
	}

	names := map[string]bool{}
	for _, dut := range t.Devices {
		if dut.Name == "" {
			return errors.New("a device without a name is defined")
		}
		if names[dut.Name] {
			return errors.Errorf("device name %q is not unique", dut.Name)
		}
		names[dut.Name] = true
		if dut.Host.Host == "" {
			return errors.Errorf("device %q has no host", dut.Name)
		}
	}

	for _, band := range t.Bands {
		if band.Name != "2G" && band.Name != "5G" {
			return errors.Errorf("band %q is not one of 2G, 5G", band.Name)
		}
		if band.SSID == "" {
			return errors.Errorf("band %q has no ssid", band.Name)
		}
		if _, ok := t.AccessPoint.Radios[band.Name]; !ok {
			return errors.Errorf("band %q has no radio mapped on the access point", band.Name)
		}
	}
	return nil
}

func (h Host) sshConfig(timeout time.Duration) executor.SSHConfig {
	return executor.SSHConfig{
		Host:              h.Host,
		Port:              h.Port,
		User:              h.User,
		Password:          h.Password,
		ConnectionTimeout: timeout,
	}
}

// AccessPointSSH returns the SSH endpoint of the router.
func (t *Topology) AccessPointSSH(timeout time.Duration) executor.SSHConfig {
	return t.AccessPoint.Host.sshConfig(timeout)
}

// Radios returns the UCI radio sections keyed by band name.
func (t *Topology) Radios() map[string]string {
	return t.AccessPoint.Radios
}

// MatrixBands converts the band plans into the matrix form, binding each
// plan to its radio section.
func (t *Topology) MatrixBands() []matrix.Band {
	bands := make([]matrix.Band, 0, len(t.Bands))
	for _, plan := range t.Bands {
		bands = append(bands, matrix.Band{
			Name:       plan.Name,
			SSID:       plan.SSID,
			Password:   plan.Password,
			Radio:      t.AccessPoint.Radios[plan.Name],
			Encryption: plan.Encryption,
			Standards:  plan.Standards,
			Channels:   plan.Channels,
		})
	}
	return bands
}

// DeviceConfigs converts the device entries into session configurations.
func (t *Topology) DeviceConfigs(timeout time.Duration) []device.Config {
	configs := make([]device.Config, 0, len(t.Devices))
	for _, dut := range t.Devices {
		configs = append(configs, device.Config{
			Name:      dut.Name,
			SSH:       dut.Host.sshConfig(timeout),
			Agent:     dut.Agent,
			ProbePort: dut.ProbePort,
		})
	}
	return configs
}
