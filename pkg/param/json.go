package param

import (
	"encoding/json"
	"fmt"

	"github.com/gemfony/optevo/pkg/adaptor"
	"github.com/gemfony/optevo/pkg/gene"
)

// nodeJSON is the discriminated-union wire shape for a Node: exactly one
// of Leaf/Set is populated, selected by Type.
type nodeJSON struct {
	Type     string          `json:"type"`
	Genes    []gene.Gene     `json:"genes,omitempty"`
	Adaptor  *adaptor.Adaptor `json:"adaptor,omitempty"`
	InitLo   float64         `json:"init_lo,omitempty"`
	InitHi   float64         `json:"init_hi,omitempty"`
	Children []nodeJSON      `json:"children,omitempty"`
}

func toNodeJSON(n Node) nodeJSON {
	switch v := n.(type) {
	case *Leaf:
		return nodeJSON{Type: "leaf", Genes: v.Genes, Adaptor: v.Adaptor, InitLo: v.InitLo, InitHi: v.InitHi}
	case *Set:
		children := make([]nodeJSON, len(v.Children))
		for i, c := range v.Children {
			children[i] = toNodeJSON(c)
		}

		return nodeJSON{Type: "set", Children: children}
	default:
		return nodeJSON{}
	}
}

func fromNodeJSON(nj nodeJSON) (Node, error) {
	switch nj.Type {
	case "leaf":
		return &Leaf{Genes: nj.Genes, Adaptor: nj.Adaptor, InitLo: nj.InitLo, InitHi: nj.InitHi}, nil
	case "set":
		children := make([]Node, len(nj.Children))

		for i, c := range nj.Children {
			child, err := fromNodeJSON(c)
			if err != nil {
				return nil, err
			}

			children[i] = child
		}

		return &Set{Children: children}, nil
	default:
		return nil, fmt.Errorf("param: unknown node type %q", nj.Type)
	}
}

// MarshalJSON encodes the tree as a discriminated-union node graph.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(toNodeJSON(t.Root))
}

// UnmarshalJSON decodes a tree previously produced by MarshalJSON.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var nj nodeJSON

	if err := json.Unmarshal(data, &nj); err != nil {
		return fmt.Errorf("param: decode tree: %w", err)
	}

	root, err := fromNodeJSON(nj)
	if err != nil {
		return err
	}

	t.Root = root

	return nil
}
