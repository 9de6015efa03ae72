package document

// ReportSchema is embedded in the transform prompt. The model is not
// guaranteed to honor it, so Report.Validate runs on the parsed result.
const ReportSchema = `{
  "type": "object",
  "required": ["title", "slug", "summary", "content"],
  "properties": {
    "title": {"type": "string"},
    "slug": {"type": "string", "description": "url-safe lowercase identifier"},
    "summary": {"type": "string", "description": "2-3 sentence executive summary"},
    "content": {
      "type": "object",
      "required": ["sections"],
      "properties": {
        "sections": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "required": ["title", "content"],
            "properties": {
              "title": {"type": "string"},
              "content": {"type": "string"}
            }
          }
        },
        "visualizations": {"type": "array", "items": {"type": "object"}},
        "tables": {"type": "array", "items": {"type": "object"}}
      }
    },
    "tags": {"type": "array", "items": {"type": "string"}, "description": "regulations covered, e.g. GDPR, HIPAA"},
    "category": {"type": "string"},
    "country": {"type": "string"},
    "region": {"type": "string"}
  }
}`

// DefaultInstructions is the system framing for the transform step.
const DefaultInstructions = `You are a compliance analyst. Restructure the raw text below into a publishable compliance report. Preserve every factual claim from the input; do not invent regulations, dates, or figures. Sections should follow the logical structure of the source material.`
