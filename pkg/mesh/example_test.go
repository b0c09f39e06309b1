package mesh_test

import (
	"context"
	"fmt"

	"github.com/lwmacct/251217-go-pkg-mesh/internal/testactors"
	"github.com/lwmacct/251217-go-pkg-mesh/pkg/mesh"
	"github.com/lwmacct/251217-go-pkg-mesh/pkg/region"
)

func Example() {
	ctx := context.Background()
	extent := region.MustExtent([]string{"host", "gpu"}, []int{2, 2})

	pm, err := mesh.Allocate(ctx, mesh.NewLocalAllocator(), extent)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer pm.Stop(ctx)

	am, err := pm.Spawn(ctx, "store", testactors.StoreType, testactors.StoreParams{
		Seed: map[string]string{"model": "v1"},
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	stores := testactors.StoreMeshClient{Mesh: am}
	found, err := stores.Exists(ctx, pm.Client(), "model")
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(found.Values())

	ranks, _ := stores.Sleep(ctx, pm.Client(), 0)
	for p, r := range ranks.Entries() {
		fmt.Println(p, r.Value)
	}

	// Output:
	// [true true true true]
	// {host=0/2,gpu=0/2} 0
	// {host=0/2,gpu=1/2} 1
	// {host=1/2,gpu=0/2} 2
	// {host=1/2,gpu=1/2} 3
}

func ExampleActorMesh_Select() {
	ctx := context.Background()
	extent := region.MustExtent([]string{"host", "gpu"}, []int{2, 4})

	pm, err := mesh.Allocate(ctx, mesh.NewLocalAllocator(), extent)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer pm.Stop(ctx)

	am, err := pm.Spawn(ctx, "store", testactors.StoreType, nil)
	if err != nil {
		fmt.Println(err)
		return
	}

	host1, _ := am.Select("host", region.Single(1))
	evens, _ := host1.Select("gpu", region.Stepped(0, 4, 2))
	fmt.Println(evens.NumRanks())

	for i := range evens.NumRanks() {
		rank, _ := evens.Rank(i)
		pp, _ := evens.ProcPoint(i)
		fmt.Println(rank, pp)
	}

	// Output:
	// 2
	// 4 {host=1/2,gpu=0/4}
	// 6 {host=1/2,gpu=2/4}
}
