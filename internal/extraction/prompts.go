package extraction

const systemPrompt = `You are an expert medical scribe with advanced entity extraction capabilities.
You fill clinical note templates from dictated text and report how certain you are about every value.`

// extractionPrompt takes the dictated text and the template body.
const extractionPrompt = `TASK: Extract structured information from dictated medical text and fill template placeholders.

DICTATED TEXT:
---
%s
---

TEMPLATE:
---
%s
---

INSTRUCTIONS:
1. Identify all placeholders in the template (format: {field_name}).
2. Extract the corresponding information from the dictated text.
3. Assign a confidence score (0.0-1.0) to each extraction:
   - 1.0: explicitly stated, unambiguous
   - 0.8-0.9: clearly implied or paraphrased
   - 0.5-0.7: inferred from context
   - 0.0-0.4: uncertain or not found
4. Set "source" to "explicit" when the value is stated verbatim, "contextual" when it is
   paraphrased, and "inferred" otherwise.
5. If information is not found, use an empty string with confidence 0.0.

OUTPUT FORMAT (JSON only, no markdown):
{
  "field_name": {"value": "extracted text", "confidence": 0.95, "source": "explicit"},
  "another_field": {"value": "another value", "confidence": 0.6, "source": "inferred"}
}

Respond ONLY with valid JSON. No explanations, no markdown formatting.`
