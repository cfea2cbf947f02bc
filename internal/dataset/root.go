package dataset

import (
	"fmt"

	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/rtree"
)

// ROOTReader reads the event tree of a ROOT file written by the simulation.
// Scalar branches become flat columns and std::vector branches jagged ones.
type ROOTReader struct {
	Tree string
}

// Read implements Reader.
func (r ROOTReader) Read(path string) (*Dataset, error) {
	f, err := groot.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open ROOT file: %w", err)
	}
	defer f.Close()

	obj, err := f.Get(r.Tree)
	if err != nil {
		return nil, fmt.Errorf("could not find tree %q: %w", r.Tree, err)
	}
	tree, ok := obj.(rtree.Tree)
	if !ok {
		return nil, fmt.Errorf("object %q is a %T, not a tree", r.Tree, obj)
	}

	rvars := rtree.NewReadVars(tree)
	builders := make([]*columnBuilder, len(rvars))
	for i, rv := range rvars {
		builders[i] = newColumnBuilder(rv.Name, kindOf(rv.Value))
	}

	rd, err := rtree.NewReader(tree, rvars)
	if err != nil {
		return nil, fmt.Errorf("could not create reader for tree %q: %w", r.Tree, err)
	}
	defer rd.Close()

	err = rd.Read(func(ctx rtree.RCtx) error {
		for i, rv := range rvars {
			if err := builders[i].appendReflect(rv.Value); err != nil {
				return fmt.Errorf("entry %d: %w", ctx.Entry, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not read tree %q: %w", r.Tree, err)
	}

	ds := New(int(tree.Entries()))
	for _, b := range builders {
		if err := ds.Set(b.col); err != nil {
			return nil, err
		}
	}
	return ds, nil
}
