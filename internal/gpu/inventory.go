package gpu

// PlatformInventory is one platform and every device it exposes.
type PlatformInventory struct {
	Index   int          `json:"index"`
	Info    PlatformInfo `json:"info"`
	Devices []DeviceInfo `json:"devices"`
	// Err is set when the platform's devices could not be listed.
	Err error `json:"-"`
}

// Inventory lists the platforms and devices of backend without creating a
// context. A platform whose device query fails is kept with Err set.
func Inventory(backend Backend) ([]PlatformInventory, error) {
	platforms, err := backend.Platforms()
	if err != nil {
		return nil, newError(KindPlatformEnumeration, "Inventory", "failed to enumerate platforms", err)
	}
	out := make([]PlatformInventory, 0, len(platforms))
	for i, p := range platforms {
		inv := PlatformInventory{Index: i, Info: p.Info()}
		devices, err := p.Devices(DeviceTypeAll)
		if err != nil {
			inv.Err = newError(KindDeviceEnumeration, "Inventory", "failed to enumerate devices", err)
		}
		for _, d := range devices {
			inv.Devices = append(inv.Devices, d.Info())
		}
		out = append(out, inv)
	}
	return out, nil
}
