// Package samples holds ready-made submissions used by the smoke check and the load producer.
package samples

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dontdude/javabox/internal/domain"
)

const helloMain = `public class Main {
    public static void main(String[] args) {
        System.out.println("Hello world!");
    }
}
`

const infiniteMain = `public class Main {
    public static void main(String[] args) {
        while (true) {
        }
    }
}
`

const exceptionMain = `public class Main {
    public static void main(String[] args) {
        throw new IllegalStateException("boom");
    }
}
`

const messageUtil = `public class MessageUtil {
    private final String message;

    public MessageUtil(String message) {
        this.message = message;
    }

    public String printMessage() {
        System.out.println(message);
        return message;
    }
}
`

const messageUtilTest = `import org.junit.Test;

import static org.junit.Assert.assertEquals;

public class MessageUtilTest {
    private final MessageUtil util = new MessageUtil("Hello World");

    @Test
    public void printsMessage() {
        assertEquals("Hello World", util.printMessage());
    }

    @Test
    public void arithmetic() {
        assertEquals(2, 1 + 1);
    }

    @Test
    public void failing() {
        assertEquals("Goodbye World", util.printMessage());
    }
}
`

var submissions = map[string]domain.Submission{
	"hello": {
		Main:  "Main",
		Files: []domain.File{{Name: "Main.java", Data: helloMain}},
	},
	"infinite": {
		Main:  "Main",
		Files: []domain.File{{Name: "Main.java", Data: infiniteMain}},
	},
	"exception": {
		Main:  "Main",
		Files: []domain.File{{Name: "Main.java", Data: exceptionMain}},
	},
	"junit": {
		Files: []domain.File{{Name: "MessageUtil.java", Data: messageUtil}},
		Tests: []domain.File{{Name: "MessageUtilTest.java", Data: messageUtilTest}},
	},
}

// Names returns the sample names in sorted order.
func Names() []string {
	names := make([]string, 0, len(submissions))
	for name := range submissions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Request returns the named sample as a wire request for clientID.
func Request(name, clientID string, compileMs, executeMs int64, maxLength int) (domain.WireRequest, error) {
	sub, ok := submissions[name]
	if !ok {
		return domain.WireRequest{}, fmt.Errorf("unknown sample %q (want one of %s)", name, strings.Join(Names(), ", "))
	}
	return domain.WireRequest{
		ClientID:            clientID,
		Submission:          sub,
		CompileTimeoutMs:    compileMs,
		ExecutionTimeoutMs:  executeMs,
		CharactersMaxLength: maxLength,
	}, nil
}
