package gold

// Feature table queries. Silver columns are stored as TEXT; every numeric
// use is an explicit CAST so a stray non-numeric value degrades to zero
// instead of failing the whole table. Parameterized dates carry the run's
// reference date in YYYY-MM-DD form.

// customerFeaturesSQL scores each customer on recency, frequency and
// monetary value. Returned transactions are tallied separately so gross
// revenue and the return amount stay visible side by side.
const customerFeaturesSQL = `
CREATE TABLE customer_features AS
WITH txn AS (
    SELECT
        customer_id,
        COUNT(*) AS purchase_frequency,
        SUM(CAST(total_amount AS REAL)) AS customer_lifetime_value,
        AVG(CASE WHEN UPPER(COALESCE(order_status, '')) <> 'RETURNED'
                 THEN CAST(total_amount AS REAL) END) AS average_order_value,
        SUM(CASE WHEN UPPER(COALESCE(order_status, '')) <> 'RETURNED'
                 THEN CAST(total_amount AS REAL) ELSE 0 END) AS gross_revenue,
        SUM(CASE WHEN UPPER(COALESCE(order_status, '')) = 'RETURNED'
                 THEN CAST(total_amount AS REAL) ELSE 0 END) AS return_amount,
        SUM(CASE WHEN UPPER(COALESCE(order_status, '')) = 'RETURNED'
                 THEN 1 ELSE 0 END) AS return_count,
        MAX(transaction_date) AS last_purchase
    FROM transactions
    WHERE customer_id IS NOT NULL AND customer_id <> ''
    GROUP BY customer_id
),
scored AS (
    SELECT
        c.customer_id,
        c.full_name,
        c.segment,
        t.purchase_frequency,
        ROUND(t.customer_lifetime_value, 2) AS customer_lifetime_value,
        ROUND(t.average_order_value, 2) AS average_order_value,
        ROUND(t.gross_revenue, 2) AS gross_revenue,
        ROUND(t.return_amount, 2) AS return_amount,
        t.return_count,
        CAST(julianday(?1) - julianday(t.last_purchase) AS INTEGER) AS days_since_last_purchase,
        NTILE(5) OVER (ORDER BY COALESCE(julianday(t.last_purchase), 0)) AS recency_score,
        NTILE(5) OVER (ORDER BY COALESCE(t.purchase_frequency, 0)) AS frequency_score,
        NTILE(5) OVER (ORDER BY COALESCE(t.customer_lifetime_value, 0)) AS monetary_score
    FROM customers c
    LEFT JOIN txn t ON t.customer_id = c.customer_id
)
SELECT
    *,
    ROUND((recency_score + frequency_score + monetary_score) / 3.0, 2) AS customer_segment_score
FROM scored
ORDER BY customer_id`

// productFeaturesSQL measures each product's sales performance and blends
// its rating with the supplying vendor's reliability. Velocity is expressed
// as units moved per 30-day month.
const productFeaturesSQL = `
CREATE TABLE product_features AS
WITH sales AS (
    SELECT
        product_id,
        SUM(CASE WHEN UPPER(COALESCE(order_status, '')) <> 'RETURNED'
                 THEN CAST(quantity AS REAL) ELSE 0 END) AS units_sold,
        SUM(CASE WHEN UPPER(COALESCE(order_status, '')) <> 'RETURNED'
                 THEN CAST(total_amount AS REAL) ELSE 0 END) AS revenue,
        COUNT(DISTINCT customer_id) AS unique_buyers
    FROM transactions
    WHERE product_id IS NOT NULL AND product_id <> ''
    GROUP BY product_id
),
ratings AS (
    SELECT
        product_id,
        COUNT(*) AS review_count,
        AVG(CAST(rating AS REAL)) AS average_review_rating
    FROM reviews
    WHERE product_id IS NOT NULL AND product_id <> ''
    GROUP BY product_id
),
total AS (
    SELECT SUM(revenue) AS all_revenue FROM sales
)
SELECT
    p.product_id,
    p.product_name,
    p.category,
    p.vendor_id,
    CAST(p.price AS REAL) AS price,
    COALESCE(s.units_sold, 0) AS units_sold,
    ROUND(COALESCE(s.revenue, 0), 2) AS revenue,
    ROUND(COALESCE(s.revenue / NULLIF((SELECT all_revenue FROM total), 0), 0), 4) AS revenue_contribution,
    ROUND(COALESCE(s.units_sold, 0) / 30.0, 3) AS velocity_score,
    ROUND(COALESCE(s.units_sold / NULLIF(CAST(p.stock_quantity AS REAL), 0), 0), 4) AS stock_turnover_rate,
    CASE
        WHEN CAST(p.price AS REAL) >= 100 THEN 'premium'
        WHEN CAST(p.price AS REAL) >= 50 THEN 'mid'
        ELSE 'budget'
    END AS price_tier,
    COALESCE(r.review_count, 0) AS review_count,
    ROUND(r.average_review_rating, 2) AS average_review_rating,
    ROUND(COALESCE(CAST(p.rating AS REAL), 0) * COALESCE(CAST(v.reliability_score AS REAL), 0) / 100.0, 2)
        AS vendor_reliability_weighted_score
FROM products p
LEFT JOIN sales s ON s.product_id = p.product_id
LEFT JOIN ratings r ON r.product_id = p.product_id
LEFT JOIN vendors v ON v.vendor_id = p.vendor_id
ORDER BY p.product_id`

// vendorFeaturesSQL judges vendors on catalog quality and payment behavior.
// An invoice counts toward the payment rate only when it was paid on or
// before its due date; anything not marked paid accrues to the outstanding
// balance.
const vendorFeaturesSQL = `
CREATE TABLE vendor_features AS
WITH catalog AS (
    SELECT
        vendor_id,
        COUNT(*) AS total_products_supplied,
        AVG(CAST(rating AS REAL)) AS product_quality_score
    FROM products
    WHERE vendor_id IS NOT NULL AND vendor_id <> ''
    GROUP BY vendor_id
),
sales AS (
    SELECT
        p.vendor_id,
        SUM(CAST(t.total_amount AS REAL)) AS revenue_generated
    FROM transactions t
    JOIN products p ON p.product_id = t.product_id
    GROUP BY p.vendor_id
),
billing AS (
    SELECT
        vendor_id,
        COUNT(*) AS invoice_count,
        AVG(CAST(total_amount AS REAL)) AS average_invoice_value,
        SUM(CASE WHEN LOWER(COALESCE(payment_status, '')) = 'paid'
                  AND COALESCE(payment_date, '') <> ''
                  AND julianday(payment_date) <= julianday(due_date)
                 THEN 1 ELSE 0 END) AS paid_on_time,
        SUM(CASE WHEN LOWER(COALESCE(payment_status, '')) <> 'paid'
                 THEN CAST(total_amount AS REAL) ELSE 0 END) AS outstanding
    FROM invoices
    WHERE vendor_id IS NOT NULL AND vendor_id <> ''
    GROUP BY vendor_id
)
SELECT
    v.vendor_id,
    v.vendor_name,
    v.country,
    CAST(v.reliability_score AS REAL) AS reliability_score,
    COALESCE(c.total_products_supplied, 0) AS total_products_supplied,
    ROUND(COALESCE(s.revenue_generated, 0), 2) AS revenue_generated,
    ROUND(COALESCE(c.product_quality_score, 0), 2) AS product_quality_score,
    ROUND(COALESCE(CAST(b.paid_on_time AS REAL) / NULLIF(b.invoice_count, 0), 0), 4) AS invoice_payment_rate,
    ROUND(COALESCE(b.average_invoice_value, 0), 2) AS average_invoice_value,
    ROUND(COALESCE(b.outstanding, 0), 2) AS total_outstanding_balance
FROM vendors v
LEFT JOIN catalog c ON c.vendor_id = v.vendor_id
LEFT JOIN sales s ON s.vendor_id = v.vendor_id
LEFT JOIN billing b ON b.vendor_id = v.vendor_id
ORDER BY v.vendor_id`

// invoiceFeaturesSQL tracks payment timing per invoice and reconciles the
// stated subtotal against the extracted line items. Unpaid invoices measure
// overdue days against the reference date. A payment date before the
// invoice date yields negative days_to_payment, kept as-is: prepayments are
// flagged here rather than quarantined upstream.
const invoiceFeaturesSQL = `
CREATE TABLE invoice_features AS
WITH items AS (
    SELECT
        invoice_id,
        COUNT(DISTINCT product_id) AS unique_products,
        SUM(CAST(line_total AS REAL)) AS line_items_total
    FROM invoice_line_items
    GROUP BY invoice_id
)
SELECT
    i.invoice_id,
    i.vendor_id,
    LOWER(i.payment_status) AS payment_status,
    CAST(i.total_amount AS REAL) AS total_amount,
    CASE WHEN COALESCE(i.payment_date, '') <> ''
         THEN CAST(julianday(i.payment_date) - julianday(i.invoice_date) AS INTEGER)
    END AS days_to_payment,
    CASE
        WHEN COALESCE(i.payment_date, '') <> ''
            THEN MAX(CAST(julianday(i.payment_date) - julianday(i.due_date) AS INTEGER), 0)
        WHEN LOWER(COALESCE(i.payment_status, '')) <> 'paid'
            THEN MAX(CAST(julianday(?1) - julianday(i.due_date) AS INTEGER), 0)
        ELSE 0
    END AS days_overdue,
    COALESCE(it.unique_products, 0) AS line_item_diversity,
    ROUND(MAX(COALESCE(
        (CAST(i.subtotal AS REAL) + COALESCE(CAST(i.tax_amount AS REAL), 0)
            + COALESCE(CAST(i.shipping_handling AS REAL), 0)
            - CAST(i.total_amount AS REAL))
        / NULLIF(CAST(i.subtotal AS REAL), 0), 0), 0), 4) AS discount_rate_achieved,
    CASE WHEN it.line_items_total IS NOT NULL
          AND ABS(it.line_items_total - COALESCE(CAST(i.subtotal AS REAL), CAST(i.total_amount AS REAL))) > 0.01
         THEN 1 ELSE 0
    END AS reconciliation_flag
FROM invoices i
LEFT JOIN items it ON it.invoice_id = i.invoice_id
ORDER BY i.invoice_id`
