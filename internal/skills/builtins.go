package skills

import "github.com/ScienceIsVeryCool/OllamaPy/internal/coerce"

// BuiltinImportExceptions lists the extra sandbox imports each built-in
// is allowed beyond the default whitelist. The file skills genuinely read
// the filesystem; nothing else gets os.
var BuiltinImportExceptions = map[string][]string{
	"fileReader":      {"os"},
	"directoryReader": {"os"},
}

// SeedBuiltins registers the verified skill set. Built-ins live in code
// only and are never written to the backing store.
func (r *Registry) SeedBuiltins() error {
	for _, s := range Builtins() {
		if err := r.adopt(s); err != nil {
			return err
		}
	}
	return nil
}

// Builtins returns fresh copies of the verified skill definitions.
func Builtins() []*Skill {
	return []*Skill{
		{
			Name:        "fear",
			Description: "Use when the user says something disturbing so that the main model can exhibit a fear response",
			Role:        "emotional_response",
			VibePhrases: []string{
				"I think aliens are trying to kill me",
				"AAAAAAAAAAHHHHHHHHHHHHHHHHHHHHH",
				"Immigrants are taking my job",
			},
			Source:      fearSource,
			Verified:    true,
			SuccessRate: 100.0,
		},
		{
			Name:        "fileReader",
			Description: "Use when the user wants you to read or open a file to look at its content as plaintext.",
			Role:        "file_operations",
			VibePhrases: []string{
				"What do you think of this paper? /home/paper.txt",
				"Do you think this code will run? /storage/python_code.py",
				"/home/documents/fileName.txt",
			},
			Parameters: []Parameter{
				{
					Name:        "filePath",
					Kind:        coerce.String,
					Required:    true,
					Description: "The path to the file the user wants you to read",
				},
			},
			Source:      fileReaderSource,
			Verified:    true,
			SuccessRate: 100.0,
		},
		{
			Name:        "directoryReader",
			Description: "Use when the user wants you to look through an entire directory's contents for an answer.",
			Role:        "file_operations",
			VibePhrases: []string{
				"What do you think of this project? /home/myCodingProject",
				"Do you think this code will run? /storage/myOtherCodingProject/",
				"/home/documents/randomPlace/",
			},
			Parameters: []Parameter{
				{
					Name:        "dir",
					Kind:        coerce.String,
					Required:    true,
					Description: "The dir path to the point of interest the user wants you to open and explore.",
				},
			},
			Source:      directoryReaderSource,
			Verified:    true,
			SuccessRate: 100.0,
		},
		{
			Name:        "getWeather",
			Description: "Use when the user asks about weather conditions or climate. Like probably anything close to weather conditions. UV, Humidity, temperature, etc.",
			Role:        "information",
			VibePhrases: []string{
				"Is it raining right now?",
				"Do I need a Jacket when I go outside due to weather?",
				"Is it going to be hot today?",
				"Do I need an umbrella due to rain today?",
				"Do I need sunscreen today due to UV?",
				"What's the weather like?",
				"Tell me about today's weather",
			},
			Parameters: []Parameter{
				{
					Name:        "location",
					Kind:        coerce.String,
					Required:    false,
					Description: "The location to get weather for (city name or coordinates)",
				},
			},
			Source:      getWeatherSource,
			Verified:    true,
			SuccessRate: 100.0,
		},
		{
			Name:        "getTime",
			Description: "Use when the user asks about the current time, date, or temporal information.",
			Role:        "information",
			VibePhrases: []string{
				"what is the current time?",
				"is it noon yet?",
				"what time is it?",
				"Is it 4 o'clock?",
				"What day is it?",
				"What's the date today?",
			},
			Parameters: []Parameter{
				{
					Name:        "timezone",
					Kind:        coerce.String,
					Required:    false,
					Description: "The timezone to get time for (e.g., 'EST', 'PST', 'UTC')",
				},
			},
			Source:      getTimeSource,
			Verified:    true,
			SuccessRate: 100.0,
		},
		{
			Name:        "square_root",
			Description: "Use when the user wants to calculate the square root of a number. Keywords include: square root, sqrt, √",
			Role:        "mathematics",
			VibePhrases: []string{
				"what's the square root of 16?",
				"calculate sqrt(25)",
				"find the square root of 144",
				"√81 = ?",
				"I need the square root of 2",
				"square root of 100",
			},
			Parameters: []Parameter{
				{
					Name:        "number",
					Kind:        coerce.Number,
					Required:    true,
					Description: "The number to calculate the square root of",
				},
			},
			Source:      squareRootSource,
			Verified:    true,
			SuccessRate: 100.0,
		},
		{
			Name:        "calculate",
			Description: "Use when the user wants to perform arithmetic calculations. Keywords: calculate, compute, add, subtract, multiply, divide, +, -, *, /",
			Role:        "mathematics",
			VibePhrases: []string{
				"calculate 5 + 3",
				"what's 10 * 7?",
				"compute 100 / 4",
				"15 - 8 equals what?",
				"multiply 12 by 9",
				"what is 2 plus 2?",
			},
			Parameters: []Parameter{
				{
					Name:        "expression",
					Kind:        coerce.String,
					Required:    true,
					Description: "The mathematical expression to evaluate (e.g., '5 + 3', '10 * 2')",
				},
			},
			Source:      calculateSource,
			Verified:    true,
			SuccessRate: 100.0,
		},
	}
}

const fearSource = `func Execute(args map[string]interface{}, log func(string)) error {
	log("[fear response] Tell the user that they are losing their mind and need to stop being delusional. Be blunt. That's all from fear.")
	return nil
}`

const fileReaderSource = `import (
	"fmt"
	"os"
)

func Execute(args map[string]interface{}, log func(string)) error {
	filePath, _ := args["filePath"].(string)
	log("[fileReader] Starting File Reading process.")
	content, err := os.ReadFile(filePath)
	if err != nil {
		log(fmt.Sprintf("[fileReader] There was an exception thrown when trying to read filePath: %s. Error: %v", filePath, err))
		return nil
	}
	log(fmt.Sprintf("[fileReader] here is the filePath: %s contents:\n\n%s", filePath, content))
	return nil
}`

const directoryReaderSource = `import (
	"fmt"
	"os"
	"path/filepath"
)

func Execute(args map[string]interface{}, log func(string)) error {
	dir, _ := args["dir"].(string)
	log(fmt.Sprintf("[directoryReader] Starting up Directory Reading Process for : %s", dir))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log(fmt.Sprintf("[directoryReader] Error: Directory not found at %s", dir))
		} else {
			log(fmt.Sprintf("[directoryReader] An unexpected error occurred: %v", err))
		}
		return nil
	}
	for _, entry := range entries {
		itemPath := filepath.Join(dir, entry.Name())
		log(fmt.Sprintf("[directoryReader] Now looking at item: %s at %s", entry.Name(), itemPath))
		if entry.IsDir() {
			continue
		}
		content, err := os.ReadFile(itemPath)
		if err != nil {
			log(fmt.Sprintf("[directoryReader] Error reading file %s: %v", entry.Name(), err))
			continue
		}
		log(fmt.Sprintf("[directoryReader] Here is file contents for: %s:\n%s", itemPath, content))
	}
	return nil
}`

const getWeatherSource = `import "fmt"

func Execute(args map[string]interface{}, log func(string)) error {
	location, _ := args["location"].(string)
	if location == "" {
		location = "current location"
	}
	log(fmt.Sprintf("[Weather Check] Retrieving weather information for %s", location))
	log(fmt.Sprintf("[Weather] Location: %s", location))
	log("[Weather] Current conditions: Partly cloudy")
	log("[Weather] Temperature: 72°F (22°C)")
	log("[Weather] Feels like: 70°F (21°C)")
	log("[Weather] Humidity: 45%")
	log("[Weather] UV Index: 6 (High) - Sun protection recommended")
	log("[Weather] Wind: 5 mph from the Northwest")
	log("[Weather] Visibility: 10 miles")
	log("[Weather] Today's forecast: Partly cloudy with a high of 78°F and low of 62°F")
	log("[Weather] Rain chance: 10%")
	log("[Weather] Recommendation: Light jacket might be needed for evening, sunscreen recommended for extended outdoor activity")
	return nil
}`

const getTimeSource = `import (
	"fmt"
	"time"
)

func Execute(args map[string]interface{}, log func(string)) error {
	timezone, _ := args["timezone"].(string)
	now := time.Now()
	suffix := ""
	if timezone != "" {
		suffix = " for " + timezone
	}
	log(fmt.Sprintf("[Time Check] Retrieving current time%s", suffix))
	log(fmt.Sprintf("[Time] Current time: %s", now.Format("03:04:05 PM")))
	log(fmt.Sprintf("[Time] Date: %s", now.Format("Monday, January 02, 2006")))
	log(fmt.Sprintf("[Time] Day of week: %s", now.Format("Monday")))
	_, week := now.ISOWeek()
	log(fmt.Sprintf("[Time] Week number: %d of the year", week))
	if timezone != "" {
		log(fmt.Sprintf("[Time] Note: Timezone conversion for '%s' would be applied in production", timezone))
	}
	hour := now.Hour()
	switch {
	case hour >= 5 && hour < 12:
		log("[Time] Period: Morning")
	case hour >= 12 && hour < 17:
		log("[Time] Period: Afternoon")
	case hour >= 17 && hour < 21:
		log("[Time] Period: Evening")
	default:
		log("[Time] Period: Night")
	}
	return nil
}`

const squareRootSource = `import (
	"fmt"
	"math"
)

func Execute(args map[string]interface{}, log func(string)) error {
	number, ok := args["number"].(float64)
	if !ok {
		log("[Square Root] Error: No number provided for square root calculation")
		return nil
	}
	log(fmt.Sprintf("[Square Root] Calculating square root of %g", number))
	if number < 0 {
		result := math.Sqrt(-number)
		log(fmt.Sprintf("[Square Root] Input is negative (%g)", number))
		log(fmt.Sprintf("[Square Root] Result: %.6fi (imaginary number)", result))
		log("[Square Root] Note: The square root of a negative number is an imaginary number")
		return nil
	}
	result := math.Sqrt(number)
	if result == math.Trunc(result) {
		log(fmt.Sprintf("[Square Root] %g is a perfect square", number))
		log(fmt.Sprintf("[Square Root] Result: %d", int(result)))
		log(fmt.Sprintf("[Square Root] Verification: %d × %d = %g", int(result), int(result), number))
	} else {
		log(fmt.Sprintf("[Square Root] Result: %.6f", result))
		log(fmt.Sprintf("[Square Root] Rounded to 2 decimal places: %.2f", result))
		log(fmt.Sprintf("[Square Root] Verification: %.6f × %.6f ≈ %.6f", result, result, result*result))
	}
	return nil
}`

const calculateSource = `import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

func Execute(args map[string]interface{}, log func(string)) error {
	raw, _ := args["expression"].(string)
	expression := strings.TrimSpace(raw)
	if expression == "" {
		log("[Calculator] Error: No expression provided for calculation")
		return nil
	}
	log("[Calculator] Evaluating expression: " + expression)
	log("[Calculator] Cleaned expression: " + expression)
	for _, c := range expression {
		if !strings.ContainsRune("0123456789+-*/.() \t", c) {
			log("[Calculator] Error: Expression contains invalid characters")
			log("[Calculator] Only numbers and operators (+, -, *, /, parentheses) are allowed")
			return nil
		}
	}
	result, err := evalExpr(expression)
	if err != nil {
		if err.Error() == "division by zero" {
			log("[Calculator] Error: Division by zero!")
			log("[Calculator] Mathematical note: Division by zero is undefined")
			return nil
		}
		log("[Calculator] Error evaluating expression: " + err.Error())
		log("[Calculator] Please check your expression format")
		return nil
	}
	log(fmt.Sprintf("[Calculator] Result: %s = %s", expression, strconv.FormatFloat(result, 'f', -1, 64)))
	if strings.Contains(expression, "+") {
		log("[Calculator] Operation type: Addition")
	}
	if strings.Contains(expression, "-") {
		log("[Calculator] Operation type: Subtraction")
	}
	if strings.Contains(expression, "*") {
		log("[Calculator] Operation type: Multiplication")
	}
	if strings.Contains(expression, "/") {
		log("[Calculator] Operation type: Division")
		if result != math.Trunc(result) {
			log("[Calculator] Note: Result includes decimal portion")
		}
	}
	return nil
}

type exprParser struct {
	input string
	pos   int
}

func evalExpr(input string) (float64, error) {
	p := &exprParser{input: input}
	v, err := p.sum()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, errors.New("unexpected character at position " + strconv.Itoa(p.pos))
	}
	return v, nil
}

func (p *exprParser) sum() (float64, error) {
	v, err := p.product()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return v, nil
		}
		switch p.input[p.pos] {
		case '+':
			p.pos++
			r, err := p.product()
			if err != nil {
				return 0, err
			}
			v += r
		case '-':
			p.pos++
			r, err := p.product()
			if err != nil {
				return 0, err
			}
			v -= r
		default:
			return v, nil
		}
	}
}

func (p *exprParser) product() (float64, error) {
	v, err := p.unary()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return v, nil
		}
		switch p.input[p.pos] {
		case '*':
			p.pos++
			r, err := p.unary()
			if err != nil {
				return 0, err
			}
			v *= r
		case '/':
			p.pos++
			r, err := p.unary()
			if err != nil {
				return 0, err
			}
			if r == 0 {
				return 0, errors.New("division by zero")
			}
			v /= r
		default:
			return v, nil
		}
	}
}

func (p *exprParser) unary() (float64, error) {
	p.skipSpace()
	if p.pos < len(p.input) && (p.input[p.pos] == '+' || p.input[p.pos] == '-') {
		neg := p.input[p.pos] == '-'
		p.pos++
		v, err := p.unary()
		if err != nil {
			return 0, err
		}
		if neg {
			return -v, nil
		}
		return v, nil
	}
	return p.atom()
}

func (p *exprParser) atom() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, errors.New("unexpected end of expression")
	}
	if p.input[p.pos] == '(' {
		p.pos++
		v, err := p.sum()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return 0, errors.New("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}
	start := p.pos
	for p.pos < len(p.input) && (p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return 0, errors.New("expected a number at position " + strconv.Itoa(start))
	}
	return strconv.ParseFloat(p.input[start:p.pos], 64)
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}`
