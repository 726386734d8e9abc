package rowcodec_test

import (
	"bytes"
	"fmt"

	"github.com/ajitpratap0/rowpack/pkg/rowcodec"
	"github.com/ajitpratap0/rowpack/pkg/rows"
)

func Example() {
	b, _ := rows.NewBatchWithKeys("id", "name")
	_ = b.AddValues([]any{int32(1), "alice"})
	_ = b.AddValues([]any{int32(2), nil})

	data, err := rowcodec.Marshal(b)
	if err != nil {
		panic(err)
	}

	decoded, err := rowcodec.Unmarshal(data)
	if err != nil {
		panic(err)
	}
	for _, row := range decoded.All() {
		fmt.Println(row.Get("id"), row.Get("name"))
	}
	// Output:
	// 1 alice
	// 2 <nil>
}

func ExampleEncoder() {
	b, _ := rows.NewBatchWithKeys("ok")
	_ = b.AddValues([]any{true})

	var buf bytes.Buffer
	if err := rowcodec.NewEncoder(&buf).Encode(b); err != nil {
		panic(err)
	}
	fmt.Printf("%q\n", buf.Bytes()[:4])

	decoded, _ := rowcodec.NewDecoder(&buf).Decode()
	fmt.Println(decoded.Keys(), decoded.Len())
	// Output:
	// "ROWS"
	// [ok] 1
}
