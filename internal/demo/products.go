package demo

// Product is one catalog entry the demo pipeline selects between.
type Product struct {
	ASIN     string  `json:"asin"`
	Title    string  `json:"title"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
	Rating   float64 `json:"rating"`
	Reviews  float64 `json:"reviews"`
}

// Reference is the product the pipeline finds a competitor for.
var Reference = Product{
	ASIN:     "B0REF00001",
	Title:    "HydraPeak Insulated Water Bottle 32oz",
	Category: "Sports & Outdoors",
	Price:    24.99,
	Rating:   4.6,
	Reviews:  8450,
}

// Catalog is the mock search index. A few entries deliberately fail the
// price, rating, or review filters so the evaluation step has texture.
var Catalog = []Product{
	{ASIN: "B0CAND0001", Title: "ThermoFlask Double Wall Water Bottle 32oz", Category: "Sports & Outdoors", Price: 22.99, Rating: 4.7, Reviews: 12890},
	{ASIN: "B0CAND0002", Title: "Iron Flask Sports Water Bottle 32oz", Category: "Sports & Outdoors", Price: 19.95, Rating: 4.8, Reviews: 97210},
	{ASIN: "B0CAND0003", Title: "Simple Modern Insulated Water Bottle", Category: "Sports & Outdoors", Price: 29.99, Rating: 4.6, Reviews: 45320},
	{ASIN: "B0CAND0004", Title: "Budget Basics Water Bottle 24oz", Category: "Sports & Outdoors", Price: 6.99, Rating: 4.1, Reviews: 3210},
	{ASIN: "B0CAND0005", Title: "AlpineSummit Titanium Water Bottle", Category: "Sports & Outdoors", Price: 89.99, Rating: 4.9, Reviews: 412},
	{ASIN: "B0CAND0006", Title: "NovaHydrate Smart Water Bottle", Category: "Sports & Outdoors", Price: 34.50, Rating: 3.4, Reviews: 1890},
	{ASIN: "B0CAND0007", Title: "TrailMate Collapsible Water Bottle", Category: "Sports & Outdoors", Price: 15.99, Rating: 4.3, Reviews: 67},
	{ASIN: "B0CAND0008", Title: "Water Bottle Cleaning Brush Set", Category: "Home & Kitchen", Price: 9.99, Rating: 4.5, Reviews: 5400},
	{ASIN: "B0CAND0009", Title: "Insulated Water Bottle Carrier Bag", Category: "Sports & Outdoors", Price: 12.99, Rating: 4.4, Reviews: 2100},
	{ASIN: "B0CAND0010", Title: "PeakFlow Stainless Water Bottle 40oz", Category: "Sports & Outdoors", Price: 27.49, Rating: 4.5, Reviews: 9875},
}
