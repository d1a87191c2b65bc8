// Package avatar defines the renderer capability the host drives and a
// WebSocket hub that forwards it to connected renderer pages.
package avatar

import (
	"errors"
	"path"
	"strings"
)

type ResourceType string

const (
	ResourceCharacter  ResourceType = "character"
	ResourceBackground ResourceType = "background"
)

// Resource is one selectable character model or background.
type Resource struct {
	ID   string       `json:"resource_id"`
	Name string       `json:"name"`
	Type ResourceType `json:"type"`
	Kind string       `json:"kind"`
	Link string       `json:"link"`
}

// Renderer is the narrow surface the host needs from an avatar renderer.
type Renderer interface {
	ChangeCharacter(id string) error
	CharacterCatalog() []Resource
	BackgroundCatalog() []Resource
	SetLipSyncWeight(w float64)
}

var ErrUnknownResource = errors.New("unknown resource")

const (
	DefaultCharacter = "HaruGreeter"

	characterFreePath     = "sentio/characters/free"
	backgroundStaticPath  = "sentio/backgrounds/static"
	backgroundDynamicPath = "sentio/backgrounds/dynamic"
)

var (
	freeCharacters     = []string{"HaruGreeter", "Haru", "Kei", "Chitose", "Epsilon", "Hibiki", "Hiyori", "Izumi", "Mao", "Rice", "Shizuku", "Tsumiki"}
	staticBackgrounds  = []string{"夜晚街道.jpg", "赛博朋克.jpg", "火影忍者.jpg", "插画.jpg", "艺术.jpg", "简约.jpg", "抽象.jpg"}
	dynamicBackgrounds = []string{"太空站.mp4", "赛博朋克.mp4", "可爱城市.mp4", "悟空.mp4", "火影忍者.mp4", "几何线条.mp4", "公式.mp4"}
)

// DefaultCharacters lists the bundled character models. Links point at the
// model portrait relative to the renderer's static root.
func DefaultCharacters() []Resource {
	out := make([]Resource, 0, len(freeCharacters))
	for _, name := range freeCharacters {
		out = append(out, Resource{
			ID:   name,
			Name: name,
			Type: ResourceCharacter,
			Kind: "FREE",
			Link: path.Join(characterFreePath, name, name+".png"),
		})
	}
	return out
}

func DefaultBackgrounds() []Resource {
	out := make([]Resource, 0, len(staticBackgrounds)+len(dynamicBackgrounds))
	add := func(kind, dir string, files []string) {
		for _, file := range files {
			name := strings.TrimSuffix(file, path.Ext(file))
			out = append(out, Resource{
				ID:   strings.ToLower(kind) + "/" + file,
				Name: name,
				Type: ResourceBackground,
				Kind: kind,
				Link: path.Join(dir, file),
			})
		}
	}
	add("STATIC", backgroundStaticPath, staticBackgrounds)
	add("DYNAMIC", backgroundDynamicPath, dynamicBackgrounds)
	return out
}

func findResource(list []Resource, id string) (Resource, bool) {
	for _, r := range list {
		if r.ID == id {
			return r, true
		}
	}
	return Resource{}, false
}
