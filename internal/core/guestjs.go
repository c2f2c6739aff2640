package core

// PreludeJS is evaluated once per engine instance, before any script.
// It defines the guest-visible surface (echo, header, http_response_code,
// exit, sapi.*, console) on top of the __sapi_* host functions the
// adapters register. Body bytes cross the boundary base64-encoded, so
// the prelude carries its own codec; bare engines ship without atob.
const PreludeJS = `(() => {
	const B64 = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/";
	const rev = {};
	for (let i = 0; i < B64.length; i++) rev[B64[i]] = i;

	function b64encode(s) {
		let out = "";
		const bytes = [];
		for (let i = 0; i < s.length; i++) {
			let c = s.charCodeAt(i);
			if (c < 0x80) bytes.push(c);
			else if (c < 0x800) bytes.push(0xc0 | (c >> 6), 0x80 | (c & 0x3f));
			else if (c >= 0xd800 && c < 0xdc00 && i + 1 < s.length) {
				const lo = s.charCodeAt(++i);
				c = 0x10000 + ((c - 0xd800) << 10) + (lo - 0xdc00);
				bytes.push(0xf0 | (c >> 18), 0x80 | ((c >> 12) & 0x3f), 0x80 | ((c >> 6) & 0x3f), 0x80 | (c & 0x3f));
			} else bytes.push(0xe0 | (c >> 12), 0x80 | ((c >> 6) & 0x3f), 0x80 | (c & 0x3f));
		}
		for (let i = 0; i < bytes.length; i += 3) {
			const b0 = bytes[i], b1 = bytes[i + 1], b2 = bytes[i + 2];
			out += B64[b0 >> 2];
			out += B64[((b0 & 3) << 4) | ((b1 || 0) >> 4)];
			out += b1 === undefined ? "=" : B64[((b1 & 15) << 2) | ((b2 || 0) >> 6)];
			out += b2 === undefined ? "=" : B64[b2 & 63];
		}
		return out;
	}

	function b64decode(s) {
		let out = "";
		s = s.replace(/=+$/, "");
		let bits = 0, acc = 0;
		for (let i = 0; i < s.length; i++) {
			acc = (acc << 6) | rev[s[i]];
			bits += 6;
			if (bits >= 8) {
				bits -= 8;
				out += String.fromCharCode((acc >> bits) & 0xff);
			}
		}
		return out;
	}

	globalThis.echo = function (...args) {
		for (const a of args) __sapi_echo(b64encode(String(a)));
	};
	globalThis.print = globalThis.echo;

	globalThis.header = function (line) {
		__sapi_header(String(line));
	};

	globalThis.http_response_code = function (code) {
		__sapi_status(code | 0);
	};

	globalThis.flush = function () {
		__sapi_flush();
	};

	globalThis.exit = function (code) {
		__sapi_exit(code === undefined ? 0 : code | 0);
		throw "__sapi_exit__";
	};

	globalThis.sapi = {
		readBody: function (n) {
			return b64decode(__sapi_read_body(n | 0));
		},
		cookies: function () {
			if (!__sapi_has_cookies()) return null;
			return __sapi_cookies();
		},
	};

	const logAt = (level) => (...args) => __sapi_log(level, args.map(String).join(" "));
	globalThis.console = {
		log: logAt("info"),
		info: logAt("info"),
		warn: logAt("warn"),
		error: logAt("error"),
		debug: logAt("debug"),
	};
})();`

// CleanupJS runs between requests on warm instances. SERVER is rebuilt
// for the next request; ENV is installed once per instance and survives.
const CleanupJS = `(() => {
	delete globalThis.SERVER;
	for (const key of Object.getOwnPropertyNames(globalThis)) {
		if (key.startsWith("__req_")) {
			try { delete globalThis[key]; } catch (_) {}
		}
	}
})();`
