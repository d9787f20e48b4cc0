// Command payload_generator produces banking API payloads for local runs.
//
// It either writes one day of records to a JSON file or serves the banking
// API over HTTP so the CLI can be pointed at it:
//
//	go run ./testdata/generators -output day.json -date 2025-12-17 -count 50
//	go run ./testdata/generators -serve :8080
//	taxrecon fetch --base-url http://localhost:8080 --proccode 180V42 --source BJB01 --date 2025-12-17
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"hash/fnv"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"tax-reconciliation-service/internal/models"
	"tax-reconciliation-service/internal/source"

	"github.com/shopspring/decimal"
)

// PayloadGenerator generates xdatatemp records for one proccode and day
type PayloadGenerator struct {
	Count       int
	MinAmount   decimal.Decimal
	MaxAmount   decimal.Decimal
	RejectRatio float64
	Seed        int64
}

var names = []string{
	"BUDI SANTOSO", "SITI AMINAH", "AHMAD FAUZI", "DEWI LESTARI", "RUDI HARTONO",
	"NURUL HIDAYAH", "AGUS SETIAWAN", "RINA WULANDARI", "HENDRA GUNAWAN", "YULI ASTUTI",
}

var rejectCodes = []string{"05", "51", "55", "91"}

func main() {
	var (
		output      = flag.String("output", "", "write one payload to this JSON file")
		serve       = flag.String("serve", "", "serve the banking API on this address, e.g. :8080")
		day         = flag.String("date", time.Now().Format(models.DayLayout), "transaction date (YYYY-MM-DD)")
		proccode    = flag.String("proccode", "180V42", "proccode of the generated records")
		count       = flag.Int("count", 20, "records per day")
		minAmount   = flag.Float64("min-amount", 10000, "minimum amount")
		maxAmount   = flag.Float64("max-amount", 5000000, "maximum amount")
		rejectRatio = flag.Float64("reject-ratio", 0.1, "share of records with a non-success response code")
		seed        = flag.Int64("seed", 1, "random seed for reproducible generation")
	)
	flag.Parse()

	generator := &PayloadGenerator{
		Count:       *count,
		MinAmount:   decimal.NewFromFloat(*minAmount),
		MaxAmount:   decimal.NewFromFloat(*maxAmount),
		RejectRatio: *rejectRatio,
		Seed:        *seed,
	}
	if generator.Count < 0 || generator.MinAmount.GreaterThan(generator.MaxAmount) {
		log.Fatalf("Invalid count or amount range")
	}

	if *serve != "" {
		log.Printf("Serving banking API on %s", *serve)
		log.Fatal(http.ListenAndServe(*serve, generator))
	}

	date, err := time.Parse(models.DayLayout, *day)
	if err != nil {
		log.Fatalf("Invalid date: %v", err)
	}

	out := io.Writer(os.Stdout)
	if *output != "" {
		file, err := os.Create(*output)
		if err != nil {
			log.Fatalf("Failed to create output file: %v", err)
		}
		defer file.Close()
		out = file
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(generator.Payload(*proccode, date)); err != nil {
		log.Fatalf("Failed to write payload: %v", err)
	}
	if *output != "" {
		fmt.Printf("Generated %d records for %s into %s\n", generator.Count, date.Format(models.DayLayout), *output)
	}
}

// ServeHTTP answers signed banking API requests.
func (g *PayloadGenerator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}
	if r.Header.Get("Authorization") != source.Sign(body) {
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}

	var req struct {
		Proccode  string `json:"proccode"`
		TransDate string `json:"transdate"`
		Psw       string `json:"psw"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	date, err := time.Parse(models.DayLayout, req.TransDate)
	if err != nil {
		http.Error(w, "bad transdate", http.StatusBadRequest)
		return
	}

	log.Printf("%s %s %s", req.Proccode, req.Psw, req.TransDate)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(g.Payload(req.Proccode, date))
}

// Payload returns the records of one proccode and day. The same inputs and
// seed always produce the same records.
func (g *PayloadGenerator) Payload(proccode string, date time.Time) map[string]interface{} {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%d", proccode, date.Format(models.DayLayout), g.Seed)
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	records := make([]map[string]interface{}, g.Count)
	for i := range records {
		records[i] = g.record(rng, date, i)
	}
	return map[string]interface{}{
		"status": "00",
		"data":   map[string]interface{}{"xdatatemp": records},
	}
}

func (g *PayloadGenerator) record(rng *rand.Rand, date time.Time, i int) map[string]interface{} {
	amount := g.amount(rng)
	nop := fmt.Sprintf("3201%02d%04d%04d%04d", rng.Intn(40)+1, rng.Intn(10000), rng.Intn(10000), rng.Intn(10000))
	year := fmt.Sprint(date.Year() - rng.Intn(3))
	name := names[rng.Intn(len(names))]

	rc := "00"
	if rng.Float64() < g.RejectRatio {
		rc = rejectCodes[rng.Intn(len(rejectCodes))]
	}

	blob := nop + year + fmt.Sprintf("%-20s", name) + fmt.Sprintf("%012d", amount.IntPart())
	second := make([]string, 11)
	second[10] = blob

	return map[string]interface{}{
		"Wtransdate":  date.Format("02/01/06"),
		"Wtxamount":   amount.String(),
		"Wrc":         rc,
		"Wrefnum":     fmt.Sprintf("REF%s%04d", date.Format("060102"), i+1),
		"Welapsed":    rng.Intn(7200),
		"Wfirstdata":  []string{"PBB", year, nop},
		"Wseconddata": second,
		"Wname":       strings.TrimSpace(name),
	}
}

func (g *PayloadGenerator) amount(rng *rand.Rand) decimal.Decimal {
	span := g.MaxAmount.Sub(g.MinAmount)
	fraction := decimal.NewFromFloat(rng.Float64())
	return g.MinAmount.Add(span.Mul(fraction)).Round(0)
}
