package tracking

import (
	"context"
	"fmt"
	"image"

	"github.com/pkg/errors"
)

var (
	ErrEmptyZoneID     = errors.New("zone id is empty")
	ErrInvalidZoneRect = errors.New("zone rectangle must have a non-negative origin and positive size")
)

// ValidateSpec checks the geometry and id of a zone configuration
func ValidateSpec(spec ZoneSpec) error {
	if spec.ID == "" {
		return ErrEmptyZoneID
	}
	if spec.X < 0 || spec.Y < 0 || spec.Width <= 0 || spec.Height <= 0 {
		return errors.Wrapf(ErrInvalidZoneRect, "zone %s: %dx%d at (%d,%d)", spec.ID, spec.Width, spec.Height, spec.X, spec.Y)
	}
	return nil
}

// BlendWeight converts an optional transparency into the weight used when compositing icons
func BlendWeight(transparency *float64) float64 {
	if transparency == nil {
		return 1.0
	}
	w := 1.0 - *transparency
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}

// BuildZone validates spec and loads its icons.
// An icon that fails to load is left nil and the zone is still returned.
func BuildZone(ctx context.Context, spec ZoneSpec, loader *IconLoader) (Zone, error) {
	if err := ValidateSpec(spec); err != nil {
		return Zone{}, err
	}

	z := Zone{
		ID:          spec.ID,
		Rect:        spec.Rect(),
		BlendWeight: BlendWeight(spec.Transparency),
	}
	if loader == nil {
		return z, nil
	}

	size := image.Pt(spec.Width, spec.Height)
	z.InactiveIcon = loadIcon(ctx, loader, spec.ID, spec.InactiveIcon, size)
	z.ActiveIcon = loadIcon(ctx, loader, spec.ID, spec.ActiveIcon, size)
	return z, nil
}

func loadIcon(ctx context.Context, loader *IconLoader, zoneID, source string, size image.Point) *Icon {
	if source == "" {
		return nil
	}
	icon, err := loader.Load(ctx, source, size)
	if err != nil {
		debugMsg("ICONS", fmt.Sprintf("Icon %s unavailable: %v", source, err), zoneID)
		return nil
	}
	return icon
}

// Registry keeps zones in insertion order and owns their icons.
// It is not safe for concurrent use; the filter serializes access.
type Registry struct {
	zones []Zone
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Add inserts z, or replaces the zone with the same id keeping its position
func (r *Registry) Add(z Zone) {
	for i := range r.zones {
		if r.zones[i].ID == z.ID {
			old := r.zones[i]
			r.zones[i] = z
			releaseIcons(old, z)
			debugMsg("ZONES", "Replaced zone", z.ID)
			return
		}
	}
	r.zones = append(r.zones, z)
	debugMsg("ZONES", fmt.Sprintf("Added zone %v", z.Rect), z.ID)
}

// Remove deletes the zone with id and reports whether it existed
func (r *Registry) Remove(id string) bool {
	for i := range r.zones {
		if r.zones[i].ID == id {
			old := r.zones[i]
			r.zones = append(r.zones[:i], r.zones[i+1:]...)
			releaseIcons(old, Zone{})
			debugMsg("ZONES", "Removed zone", id)
			return true
		}
	}
	return false
}

// Clear drops every zone and releases all icons
func (r *Registry) Clear() {
	for _, z := range r.zones {
		releaseIcons(z, Zone{})
	}
	r.zones = nil
}

// Snapshot returns the zones in iteration order.
// Icons are shared with the registry and stay valid until the next mutation.
func (r *Registry) Snapshot() []Zone {
	out := make([]Zone, len(r.zones))
	copy(out, r.zones)
	return out
}

// Get returns the zone with id
func (r *Registry) Get(id string) (Zone, bool) {
	for _, z := range r.zones {
		if z.ID == id {
			return z, true
		}
	}
	return Zone{}, false
}

// Len returns the number of zones
func (r *Registry) Len() int {
	return len(r.zones)
}

// Close releases all icons
func (r *Registry) Close() {
	r.Clear()
}

// releaseIcons closes the icons of old that are not reused by keep
func releaseIcons(old, keep Zone) {
	for i, icon := range []*Icon{old.InactiveIcon, old.ActiveIcon} {
		if icon == nil || icon == keep.InactiveIcon || icon == keep.ActiveIcon {
			continue
		}
		if i == 1 && icon == old.InactiveIcon {
			continue
		}
		icon.Close()
	}
}
