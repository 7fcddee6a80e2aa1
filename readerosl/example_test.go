package readerosl_test

import (
	"fmt"
	"log"

	"github.com/psanford/httpreadat"

	"github.com/ncruces/go-osl/readerosl"
)

// Serve a database from a web server that supports range requests,
// without ever downloading the whole file.
func Example() {
	readerosl.Create("demo.db", httpreadat.New(
		"https://download.sqlite.org/2023/sample.db"))

	fd, err := readerosl.Host{}.OpenReadOnly("demo.db")
	if err != nil {
		log.Fatal(err)
	}
	defer fd.Close()

	header := make([]byte, 16)
	if err := fd.Read(header); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s\n", header)
}
