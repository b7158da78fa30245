package scanning

// billScanPrompt is the shared prompt used by all LLM providers for scanning bills
const billScanPrompt = `You are looking at a photo or PDF of a restaurant or delivery bill. Read every line and extract:

1. **Items**: every individual food or drink item with the price printed next to it. If a line has a quantity,
   use the line total, not the unit price.

2. **Shared fees**: charges that apply to the whole order rather than to one item, such as a delivery fee,
   service charge, handling fee, small order fee, rain fee or late-night surcharge.

Do NOT include tax or tip anywhere, and do not include subtotals or the grand total.

Return ONLY valid JSON in this exact format:
{
  "items": [
    {"name": "Pasta", "price": 12.99},
    {"name": "Salad", "price": 8.50}
  ],
  "sharedFees": [
    {"name": "Delivery Fee", "price": 3.99}
  ]
}

Important:
- Prices must be numbers (not strings) in the bill's currency, without currency symbols
- Use an empty array when there are no shared fees
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
